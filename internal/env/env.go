package env

import (
	"os"
	"sort"
	"strings"
)

// DefaultLocale is applied to LC_ALL when the inherited environment does not set it.
const DefaultLocale = "C.UTF-8"

type Var map[string]string

// Env composes the environment handed to the audit script.
// The inherited environment is the base; Defaults fill keys the base lacks;
// Var overrides last.
type Env struct {
	Var      Var // explicit overrides (K->V), ${VAR} expanded against the composed map
	Defaults Var // applied only when the key is absent
	base     Var // fixed base; nil means read os.Environ on every Merge
}

func New() *Env {
	return &Env{
		Var:      make(Var),
		Defaults: make(Var),
	}
}

// ForAudit returns the environment used for audit runs: the process
// environment with LC_ALL defaulted to locale (DefaultLocale when empty)
// plus the configured extra pairs.
func ForAudit(locale string, extra []string) *Env {
	if locale == "" {
		locale = DefaultLocale
	}
	e := New().WithDefault("LC_ALL", locale)
	for _, kv := range extra {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
	return e
}

// FromList fixes the base environment to kvs instead of os.Environ.
func (e *Env) FromList(kvs []string) {
	e.base = parse(kvs)
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// WithSet is the chaining form of Set.
func (e *Env) WithSet(k, v string) *Env {
	e.Set(k, v)
	return e
}

// SetDefault registers K=V to be used only when K is absent from the base.
// An inherited empty value counts as present.
func (e *Env) SetDefault(k, v string) {
	if e.Defaults == nil {
		e.Defaults = make(Var)
	}
	e.Defaults[k] = v
}

func (e *Env) WithDefault(k, v string) *Env {
	e.SetDefault(k, v)
	return e
}

// Unset removes an override.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Merge composes the final environment list:
// base (os.Environ or the FromList snapshot), then Defaults for missing keys,
// then Var overrides with ${VAR} expansion. Inherited values are passed
// through untouched. Output is sorted by key.
func (e *Env) Merge() []string {
	base := e.base
	if base == nil {
		base = parse(os.Environ())
	}
	m := make(Var, len(base)+len(e.Defaults)+len(e.Var))
	for k, v := range base {
		m[k] = v
	}
	for k, v := range e.Defaults {
		if k == "" {
			continue
		}
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = expand(v, m)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

// Lookup returns the value K would have in the merged environment.
func (e *Env) Lookup(k string) (string, bool) {
	for _, kv := range e.Merge() {
		if i := strings.IndexByte(kv, '='); i >= 0 && kv[:i] == k {
			return kv[i+1:], true
		}
	}
	return "", false
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	// simple ${VAR} expansion, no recursion
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
