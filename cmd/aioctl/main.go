// Command aioctl is a thin client for the debug control socket
// Subsystem.ServeDebugSocket exposes (spec.md §6 debug CLI, SPEC_FULL.md
// §6.2), plus a "serve" subcommand that loads a config file and blocks
// running a Subsystem until interrupted.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	aiocompl "github.com/behrlich/go-aiocompl"
	"github.com/spf13/cobra"
)

var socketPath string

func main() {
	root := &cobra.Command{
		Use:   "aioctl",
		Short: "Control and drive the aiocompl async completion subsystem",
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "", "path to the subsystem's debug control socket")

	root.AddCommand(serveCmd(), injectErrorCmd(), injectDelayCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a subsystem from a config file and block until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := aiocompl.DefaultConfig()
			var err error
			if configPath != "" {
				cfg, err = aiocompl.LoadConfig(configPath)
				if err != nil {
					return err
				}
			}

			sub, err := aiocompl.NewSubsystem(cfg)
			if err != nil {
				return err
			}
			defer sub.Terminate()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	return cmd
}

func sendCommand(line string) error {
	if socketPath == "" {
		return fmt.Errorf("aioctl: --socket is required")
	}
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := fmt.Fprintln(conn, line); err != nil {
		return err
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return err
	}
	fmt.Println(strings.TrimSpace(reply))
	return nil
}

func injectErrorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "injecterror read|write <filename> <statusCode>",
		Short: "Fail the next matching operation on an endpoint",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand("injecterror " + strings.Join(args, " "))
		},
	}
}

func injectDelayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "injectdelay read|write|flush|any <filename> <msDelay> [msJitter] [nReqs]",
		Short: "Add artificial latency to matching operations on an endpoint",
		Args:  cobra.RangeArgs(3, 5),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand("injectdelay " + strings.Join(args, " "))
		},
	}
}
