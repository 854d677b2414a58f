package shell

import "testing"

func TestCommandsBlocker(t *testing.T) {
	blocker := CommandsBlocker([]string{"sudo", "apt"})

	tests := []struct {
		args    []string
		blocked bool
	}{
		{[]string{"sudo", "rm", "-rf", "/"}, true},
		{[]string{"apt", "install", "x"}, true},
		{[]string{"ls", "-la"}, false},
		{[]string{}, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := blocker(tt.args); got != tt.blocked {
			t.Errorf("CommandsBlocker(%v) = %v, want %v", tt.args, got, tt.blocked)
		}
	}
}

func TestArgumentsBlocker(t *testing.T) {
	tests := []struct {
		name    string
		cmd     string
		sub     []string
		flags   []string
		args    []string
		blocked bool
	}{
		{"npm install -g", "npm", []string{"install"}, []string{"-g"}, []string{"npm", "install", "-g", "typescript"}, true},
		{"npm install local", "npm", []string{"install"}, []string{"-g"}, []string{"npm", "install", "lodash"}, false},
		{"npm run", "npm", []string{"install"}, []string{"-g"}, []string{"npm", "run", "test"}, false},
		{"different cmd", "npm", []string{"install"}, []string{"-g"}, []string{"yarn", "install", "-g"}, false},
		{"no flags required", "yarn", []string{"global"}, nil, []string{"yarn", "global", "add", "x"}, true},
		{"go test -exec", "go", []string{"test"}, []string{"-exec"}, []string{"go", "test", "-exec", "echo", "./..."}, true},
		{"go test normal", "go", []string{"test"}, []string{"-exec"}, []string{"go", "test", "-v", "./..."}, false},
		{"empty args", "npm", []string{"install"}, []string{"-g"}, []string{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocker := ArgumentsBlocker(tt.cmd, tt.sub, tt.flags)
			if got := blocker(tt.args); got != tt.blocked {
				t.Errorf("blocker(%v) = %v, want %v", tt.args, got, tt.blocked)
			}
		})
	}
}

func TestDefaultBlockFuncs(t *testing.T) {
	blockers := DefaultBlockFuncs()

	mustBlock := [][]string{
		{"sudo", "rm", "-rf", "/"},
		{"apt-get", "install", "curl"},
		{"systemctl", "stop", "sshd"},
		{"npm", "install", "-g", "typescript"},
		{"go", "test", "-exec", "echo"},
		{"env", "FOO=1", "some-command"},
	}
	mustAllow := [][]string{
		{"ls", "-la"},
		{"go", "build", "./..."},
		{"go", "test", "-v", "./..."},
		{"npm", "install", "lodash"},
		{"git", "status"},
	}

	blocked := func(args []string) bool {
		for _, bf := range blockers {
			if bf(args) {
				return true
			}
		}
		return false
	}

	for _, args := range mustBlock {
		if !blocked(args) {
			t.Errorf("%v should be blocked", args)
		}
	}
	for _, args := range mustAllow {
		if blocked(args) {
			t.Errorf("%v should be allowed", args)
		}
	}
}
