package actions

// Config configures the built-in actions.
type Config struct {
	HTTP HTTPConfig
}

// Builtins returns every built-in action.
func Builtins(cfg Config) []Action {
	all := make([]Action, 0, 8)
	all = append(all, CoreActions()...)
	all = append(all, CryptoActions()...)
	all = append(all, NewHTTPRequestAction(cfg.HTTP))
	return all
}

// RegisterBuiltins registers all built-in actions in the given registry.
func RegisterBuiltins(reg *Registry, cfg Config) error {
	for _, a := range Builtins(cfg) {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// NewBuiltinRegistry returns a registry holding every built-in action.
func NewBuiltinRegistry(cfg Config) (*Registry, error) {
	reg := NewRegistry()
	if err := RegisterBuiltins(reg, cfg); err != nil {
		return nil, err
	}
	return reg, nil
}
