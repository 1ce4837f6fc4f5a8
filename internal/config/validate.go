// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for structural and cross-field errors.
// Structural checks come from `validate` struct tags; cross-field checks
// cover requirements a tag cannot express (source-specific credentials,
// port collisions).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			ve := verrs[0]
			return fmt.Errorf("invalid %s: failed %q constraint", ve.Namespace(), ve.Tag())
		}
		return err
	}

	var errs []error

	switch c.Source.Primary {
	case "simkl":
		if c.Simkl.ClientID == "" {
			errs = append(errs, errors.New("simkl.client_id is required when source.primary is simkl"))
		}
	case "plex":
		if c.Plex.Token == "" {
			errs = append(errs, errors.New("plex.token is required when source.primary is plex"))
		}
	case "tautulli":
		if c.Tautulli.APIKey == "" {
			errs = append(errs, errors.New("tautulli.api_key is required when source.primary is tautulli"))
		}
	}

	if c.TMDB.APIKey == "" {
		errs = append(errs, errors.New("tmdb.api_key is required for identifier resolution"))
	}

	// The OAuth callback listener must not collide with the dashboard.
	if c.Simkl.CallbackPort == c.Server.Port {
		errs = append(errs, fmt.Errorf("simkl.callback_port %d collides with server.port", c.Server.Port))
	}

	if c.Sync.RetryBaseDelay > c.Sync.RetryMaxDelay {
		errs = append(errs, errors.New("sync.retry_base_delay exceeds sync.retry_max_delay"))
	}

	return errors.Join(errs...)
}
