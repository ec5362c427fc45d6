package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flagKeyAnnotation marks a flag with the config key it overrides
const flagKeyAnnotation = "imagededup/config-key"

// BindFlag ties flag name in flags to config key. The binding is applied
// when the command runs, so several commands may bind the same key.
func BindFlag(flags *pflag.FlagSet, name, key string) {
	if err := flags.SetAnnotation(name, flagKeyAnnotation, []string{key}); err != nil {
		panic(err)
	}
}

// BindCommandFlags binds the annotated flags of the running command
func (c *Context) BindCommandFlags(cmd *cobra.Command) error {
	var errs []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys, ok := f.Annotations[flagKeyAnnotation]
		if !ok || len(keys) == 0 {
			return
		}
		if err := c.viper.BindPFlag(keys[0], f); err != nil {
			errs = append(errs, fmt.Errorf("error binding flag %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}
