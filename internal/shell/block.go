package shell

import "strings"

// BlockFunc reports whether the given command argv should be blocked.
type BlockFunc func(args []string) bool

// CommandsBlocker blocks exact command-name matches.
func CommandsBlocker(cmds []string) BlockFunc {
	blocked := make(map[string]struct{}, len(cmds))
	for _, c := range cmds {
		blocked[c] = struct{}{}
	}
	return func(args []string) bool {
		if len(args) == 0 {
			return false
		}
		_, ok := blocked[args[0]]
		return ok
	}
}

// ArgumentsBlocker blocks a command when specific subcommand args and/or
// flags are present. For example ArgumentsBlocker("npm", []string{"install"},
// []string{"-g"}) blocks "npm install -g pkg" but allows "npm install pkg".
func ArgumentsBlocker(cmd string, subArgs, flags []string) BlockFunc {
	return func(args []string) bool {
		if len(args) == 0 || args[0] != cmd {
			return false
		}
		positional, present := splitArgsFlags(args[1:])
		if len(positional) < len(subArgs) {
			return false
		}
		for i, want := range subArgs {
			if positional[i] != want {
				return false
			}
		}
		for _, f := range flags {
			if _, ok := present[f]; !ok {
				return false
			}
		}
		return true
	}
}

func splitArgsFlags(args []string) (positional []string, flags map[string]struct{}) {
	flags = make(map[string]struct{})
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			flags[a] = struct{}{}
		} else {
			positional = append(positional, a)
		}
	}
	return
}

// BannedCommands is the default set of commands blocked outright:
// privilege escalation, package managers, system modification, and
// indirection commands that could re-exec blocked ones.
var BannedCommands = []string{
	// Bypass vectors
	"env", "nohup", "xargs",
	// Privilege escalation
	"doas", "su", "sudo",
	// Package managers
	"apk", "apt", "apt-get", "dnf", "dpkg", "pacman", "rpm", "yum", "zypper",
	// System modification
	"crontab", "fdisk", "mkfs", "mount", "umount", "systemctl", "service",
	"shutdown", "reboot",
	// Network configuration
	"ifconfig", "ip", "iptables", "ufw", "firewall-cmd",
}

// DefaultBlockFuncs returns the standard blocker set.
func DefaultBlockFuncs() []BlockFunc {
	return []BlockFunc{
		CommandsBlocker(BannedCommands),
		ArgumentsBlocker("npm", []string{"install"}, []string{"-g"}),
		ArgumentsBlocker("npm", []string{"install"}, []string{"--global"}),
		ArgumentsBlocker("yarn", []string{"global"}, nil),
		ArgumentsBlocker("go", []string{"test"}, []string{"-exec"}),
	}
}
