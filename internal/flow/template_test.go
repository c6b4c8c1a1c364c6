package flow

import "testing"

func TestSubstitute(t *testing.T) {
	vars := map[string]string{
		"nome":         "Maria",
		"user_message": "oi",
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"simple", "Olá {{nome}}!", "Olá Maria!"},
		{"repeated token", "{{nome}} e {{nome}}", "Maria e Maria"},
		{"unknown token left in place", "Olá {{sobrenome}}", "Olá {{sobrenome}}"},
		{"case-sensitive keys", "Olá {{Nome}}", "Olá {{Nome}}"},
		{"empty template", "", ""},
		{"no tokens", "sem variáveis", "sem variáveis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Substitute(tt.template, vars); got != tt.want {
				t.Errorf("Substitute(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestSubstituteIdempotent(t *testing.T) {
	vars := map[string]string{"nome": "Maria"}
	once := Substitute("Olá {{nome}}!", vars)
	twice := Substitute(once, vars)
	if once != twice {
		t.Errorf("substitution not idempotent: %q then %q", once, twice)
	}
}
