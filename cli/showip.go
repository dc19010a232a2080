// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cli

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const (
	ansiReset = "\033[0m"
	ansiGreen = "\033[32m"
	ansiCyan  = "\033[36m"
)

// NewShowIPCommand creates the show-ip command.
func NewShowIPCommand(rootOpts *RootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:           "show-ip",
		Short:         "Print the LAN addresses the dev server can be reached at",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := interfaceAddrs()
			if err != nil {
				return fmt.Errorf("list interfaces: %w", err)
			}
			out := cmd.OutOrStdout()
			printURLs(out, lanURLs(addrs, port), useColor(out))
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 3318, "server port")

	return cmd
}

// interfaceAddrs returns the addresses of interfaces that are up
func interfaceAddrs() ([]net.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var addrs []net.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		a, err := iface.Addrs()
		if err != nil {
			continue
		}
		addrs = append(addrs, a...)
	}
	return addrs, nil
}

// lanURLs keeps the non-loopback IPv4 addresses
func lanURLs(addrs []net.Addr, port int) []string {
	var urls []string
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		ip4 := ip.To4()
		if ip4 == nil || ip4.IsLoopback() || ip4.IsUnspecified() {
			continue
		}
		urls = append(urls, "http://"+net.JoinHostPort(ip4.String(), strconv.Itoa(port)))
	}
	return urls
}

func useColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func printURLs(out io.Writer, urls []string, color bool) {
	paint := func(code, s string) string {
		if !color {
			return s
		}
		return code + s + ansiReset
	}

	if len(urls) == 0 {
		fmt.Fprintln(out, "No LAN address found; use http://localhost")
		return
	}
	fmt.Fprintln(out, paint(ansiGreen, "Reachable on your network at:"))
	for _, u := range urls {
		fmt.Fprintln(out, "  "+paint(ansiCyan, u))
	}
}
