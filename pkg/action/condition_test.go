package action

import "testing"

type fakePredicates struct {
	files   map[string]bool
	dirs    map[string]bool
	cmds    map[string]bool
	envVars map[string]bool
}

func (f fakePredicates) FileExists(path string) bool      { return f.files[path] }
func (f fakePredicates) DirectoryExists(path string) bool { return f.dirs[path] }
func (f fakePredicates) CommandExists(cmd string) bool    { return f.cmds[cmd] }
func (f fakePredicates) EnvVarSet(name string) bool       { return f.envVars[name] }

func TestEvaluateCondition(t *testing.T) {
	preds := fakePredicates{
		files:   map[string]bool{"/etc/exists": true},
		dirs:    map[string]bool{"/var/exists": true},
		cmds:    map[string]bool{"python3": true},
		envVars: map[string]bool{"CI": true},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"empty expression defaults true", "", true},
		{"single true predicate", `file_exists("/etc/exists")`, true},
		{"single false predicate", `file_exists("/etc/missing")`, false},
		{"and both true", `file_exists("/etc/exists") AND command_exists("python3")`, true},
		{"and one false", `file_exists("/etc/exists") AND command_exists("missing-cmd")`, false},
		{"or one true", `file_exists("/etc/missing") OR directory_exists("/var/exists")`, true},
		{"or both false", `file_exists("/etc/missing") OR directory_exists("/var/missing")`, false},
		{"not inverts", `NOT file_exists("/etc/missing")`, true},
		{"parens group precedence", `NOT (file_exists("/etc/missing") OR env_var_set("CI"))`, false},
		{"case insensitive operators", `file_exists("/etc/exists") and env_var_set("CI")`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateCondition(tt.expr, preds)
			if err != nil {
				t.Fatalf("EvaluateCondition(%q) error = %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("EvaluateCondition(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateCondition_UnresolvableDefaultsTrue(t *testing.T) {
	preds := fakePredicates{}

	tests := []string{
		`unknown_predicate("x")`,
		`file_exists(`,
		`AND file_exists("/x")`,
		`file_exists("/x") extra_tokens`,
	}

	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			got, err := EvaluateCondition(expr, preds)
			if err == nil {
				t.Fatalf("EvaluateCondition(%q) expected an error", expr)
			}
			if !got {
				t.Errorf("EvaluateCondition(%q) = %v, want true (unresolvable defaults to execute)", expr, got)
			}
		})
	}
}

func TestOSPredicates(t *testing.T) {
	var p OSPredicates

	if p.FileExists("/nonexistent/path/for/sure") {
		t.Error("FileExists should be false for a nonexistent path")
	}
	if p.DirectoryExists("/nonexistent/path/for/sure") {
		t.Error("DirectoryExists should be false for a nonexistent path")
	}
	if !p.DirectoryExists("/tmp") {
		t.Error("DirectoryExists should be true for /tmp")
	}
	if p.CommandExists("a-command-that-should-never-exist-zzz") {
		t.Error("CommandExists should be false for a bogus command")
	}
	if !p.EnvVarSet("PATH") {
		t.Error("EnvVarSet should be true for PATH")
	}
}
