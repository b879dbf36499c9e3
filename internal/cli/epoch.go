package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ralt/apkbuild/internal/models"
	"github.com/spf13/cobra"
)

// SourceDateEpochEnv is consulted when no --epoch flag is given
const SourceDateEpochEnv = "SOURCE_DATE_EPOCH"

// resolveEpoch returns the --epoch flag value, falling back to
// SOURCE_DATE_EPOCH. One of them must be set: the build time is never taken
// from the clock.
func resolveEpoch(cmd *cobra.Command, flagValue int64) (int64, error) {
	if cmd.Flags().Changed("epoch") {
		if flagValue < 0 {
			return 0, &models.BuildError{Type: models.ErrInvalidConfig, Err: fmt.Errorf("epoch must not be negative")}
		}
		return flagValue, nil
	}

	env, ok := os.LookupEnv(SourceDateEpochEnv)
	if !ok || env == "" {
		return 0, &models.BuildError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("epoch is required, set --epoch or %s", SourceDateEpochEnv),
		}
	}

	epoch, err := strconv.ParseInt(env, 10, 64)
	if err != nil || epoch < 0 {
		return 0, &models.BuildError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("invalid %s %q", SourceDateEpochEnv, env),
		}
	}
	return epoch, nil
}
