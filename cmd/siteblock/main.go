// Package main is the CLI entry point for siteblock.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pkowalczyk/siteblock/internal/blocklist"
	"github.com/pkowalczyk/siteblock/internal/client"
	"github.com/pkowalczyk/siteblock/internal/daemon"
	"github.com/pkowalczyk/siteblock/internal/hosts"
	"github.com/pkowalczyk/siteblock/internal/installer"
	"github.com/pkowalczyk/siteblock/internal/protocol"
	"github.com/pkowalczyk/siteblock/internal/version"
)

var (
	// Version info (set via ldflags)
	Version = "dev"
)

const (
	githubOwner = "pkowalczyk"
	githubRepo  = "siteblock"

	// elevationTimeout bounds mutating requests, which can sit on the
	// administrator prompt until the user answers it.
	elevationTimeout = 5 * time.Minute
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "siteblock",
	Short: "Block distracting websites through the hosts file",
	Long: `siteblock keeps a blocklist of domains and redirects them to
localhost through the system hosts file. The agent runs unprivileged;
a single administrator prompt appears only when blocking is turned on
or off.`,
	Version: Version,
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the background agent (started by launchd/systemd)",
	RunE:  runAgent,
}

var addCmd = &cobra.Command{
	Use:   "add <domain>...",
	Short: "Add domains to the blocklist",
	Long: `Adds one or more domains to the blocklist. Inputs are
normalized: scheme, www prefix and paths are stripped, so
"https://www.reddit.com/r/all" and "reddit.com" are the same entry.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

var removeCmd = &cobra.Command{
	Use:   "remove <domain>...",
	Short: "Remove domains from the blocklist",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemove,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List blocked domains",
	RunE:  runList,
}

var onCmd = &cobra.Command{
	Use:   "on",
	Short: "Turn blocking on (prompts for administrator access)",
	RunE:  runOn,
}

var offCmd = &cobra.Command{
	Use:   "off",
	Short: "Turn blocking off (prompts for administrator access)",
	RunE:  runOff,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent and blocking status",
	RunE:  runStatus,
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recorded accesses to blocked domains",
	RunE:  runLog,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Register the agent with launchd/systemd and start it",
	RunE:  runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop the agent and remove its service registration",
	RunE:  runUninstall,
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Flush the local resolver cache",
	Long: `Flushes the resolver cache without touching the hosts file, using
the method from the settings file. Useful after editing the blocklist
while blocking is off, or when the browser still resolves a stale
address.`,
	RunE: runFlush,
}

var backupsCmd = &cobra.Command{
	Use:   "backups [name]",
	Short: "List hosts file snapshots, or print one",
	Long: `Without arguments, lists the snapshots taken before each hosts
file change. With a snapshot name, prints its content so it can be
inspected or redirected to a file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackups,
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for a newer release",
	Run:   runUpdate,
}

var logDays int

func init() {
	logCmd.Flags().IntVar(&logDays, "days", 0, "Limit to the most recent N days (0 = all)")

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(onCmd)
	rootCmd.AddCommand(offCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(updateCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer logger.Sync()

	agent, err := daemon.New(daemon.Options{
		SocketPath: protocol.SocketPath(),
		Version:    Version,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	return agent.Run()
}

// connect dials the agent for read-only requests.
func connect() (*client.Client, error) {
	return dial(client.New(protocol.SocketPath()))
}

// connectForChange dials the agent for requests that may trigger the
// elevation prompt, so the deadline covers a human answering it.
func connectForChange() (*client.Client, error) {
	return dial(client.NewWithTimeout(protocol.SocketPath(), elevationTimeout))
}

func dial(c *client.Client) (*client.Client, error) {
	if err := c.Connect(); err != nil {
		if diag := installer.CheckInstallation(); diag != nil {
			return nil, diag
		}
		return nil, fmt.Errorf("cannot reach the agent: %w", err)
	}
	return c, nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	c, err := connectForChange()
	if err != nil {
		return err
	}
	defer c.Close()

	added, err := c.Add(args)
	if err != nil {
		return err
	}

	if len(added) == 0 {
		fmt.Println("Nothing to add: already on the blocklist.")
		return nil
	}
	for _, d := range added {
		fmt.Printf("Added %s\n", d)
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	c, err := connectForChange()
	if err != nil {
		return err
	}
	defer c.Close()

	removed, err := c.Remove(args)
	if err != nil {
		return err
	}

	if len(removed) == 0 {
		fmt.Println("Nothing to remove: not on the blocklist.")
		return nil
	}
	for _, d := range removed {
		fmt.Printf("Removed %s\n", d)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()

	domains, err := c.List()
	if err != nil {
		return err
	}

	if len(domains) == 0 {
		fmt.Println("The blocklist is empty. Add domains with 'siteblock add <domain>'.")
		return nil
	}
	for _, d := range domains {
		fmt.Println(d)
	}
	return nil
}

func runOn(cmd *cobra.Command, args []string) error {
	c, err := connectForChange()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Enable(); err != nil {
		return err
	}
	fmt.Println("Blocking is on.")
	return nil
}

func runOff(cmd *cobra.Command, args []string) error {
	c, err := connectForChange()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Disable(); err != nil {
		return err
	}
	fmt.Println("Blocking is off.")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()

	status, err := c.Status()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Blocking:\t%s\n", onOff(status.Active))
	fmt.Fprintf(w, "Enabled:\t%s\n", onOff(status.Enabled))
	fmt.Fprintf(w, "Domains:\t%d\n", status.DomainCount)
	fmt.Fprintf(w, "Access logger:\t%s\n", runningStopped(status.LoggerRunning))
	fmt.Fprintf(w, "Agent version:\t%s\n", status.Version)
	fmt.Fprintf(w, "Agent uptime:\t%s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
	return w.Flush()
}

func runLog(cmd *cobra.Command, args []string) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()

	entries, err := c.AccessLog(logDays)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No recorded accesses.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.TS, e.Domain)
	}
	return w.Flush()
}

func runFlush(cmd *cobra.Command, args []string) error {
	settings, err := blocklist.LoadSettings(blocklist.DefaultSettingsPath())
	if err != nil {
		return err
	}

	flusher := hosts.NewFlusher(hosts.FlushMethod(settings.FlushMethod))
	if err := flusher.Flush(); err != nil {
		return err
	}
	fmt.Println("Resolver cache flushed.")
	return nil
}

func runBackups(cmd *cobra.Command, args []string) error {
	keeper := hosts.NewBackupKeeper(blocklist.DefaultDir())

	if len(args) == 1 {
		content, err := keeper.Read(args[0])
		if err != nil {
			return err
		}
		fmt.Print(content)
		return nil
	}

	backups, err := keeper.List()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Println("No snapshots recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, b := range backups {
		fmt.Fprintf(w, "%s\t%s\t%d bytes\n", b.Name, time.Unix(b.Timestamp, 0).Format(time.RFC3339), b.Size)
	}
	return w.Flush()
}

func runInstall(cmd *cobra.Command, args []string) error {
	inst, err := installer.New()
	if err != nil {
		return err
	}
	return inst.Install()
}

func runUninstall(cmd *cobra.Command, args []string) error {
	inst, err := installer.New()
	if err != nil {
		return err
	}
	return inst.Uninstall()
}

func runUpdate(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	checker := version.NewChecker(githubOwner, githubRepo, Version)
	if update := checker.CheckForUpdate(ctx); update != nil {
		fmt.Println(update.FormatUpdateMessage())
		return
	}
	fmt.Printf("siteblock %s is up to date.\n", Version)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func runningStopped(b bool) string {
	if b {
		return "running"
	}
	return "stopped"
}

func createLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := config.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
