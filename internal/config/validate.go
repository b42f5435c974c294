// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance. Struct tag rules cover the
// field-level constraints; Validate adds cross-field checks.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for consistency. It is called by
// Load after unmarshaling; call it directly when constructing a Config
// by hand (tests, embedding).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid fields: %s", strings.Join(fields, ", "))
		}
		return err
	}

	if c.Agent.Queue.MaxBatchSize > c.Agent.Queue.Capacity {
		return fmt.Errorf("agent.queue.max_batch_size (%d) exceeds queue capacity (%d)",
			c.Agent.Queue.MaxBatchSize, c.Agent.Queue.Capacity)
	}

	seen := make(map[string]struct{}, len(c.Server.Modules))
	for _, m := range c.Server.Modules {
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("duplicate module name %q", m.Name)
		}
		seen[m.Name] = struct{}{}
	}

	return nil
}
