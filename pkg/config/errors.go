// Package config reads INI-style machine configuration files with access
// tracking, [include] directives and typed getters, and watches them for
// changes.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package config

import (
	"fmt"

	"cnc-cam-core/pkg/errors"
)

func errMissingOption(section, option string) *errors.CamError {
	return errors.ConfigOptionError(section, option)
}

func errMissingSection(section string) *errors.CamError {
	return errors.ConfigSectionError(section)
}

func errInvalidValue(section, option, value, expected string) *errors.CamError {
	return errors.New(errors.ErrConfigType,
		fmt.Sprintf("option '%s' in section '%s': invalid value '%s', expected %s", option, section, value, expected)).
		SetSection(section).
		SetOption(option)
}

func errOutOfRange(section, option string, value float64, constraint string) *errors.CamError {
	return errors.ConfigValidationError(section, option, fmt.Sprintf("value %v %s", value, constraint))
}

func errInvalidChoice(section, option, value string, choices []string) *errors.CamError {
	return errors.ConfigValidationError(section, option,
		fmt.Sprintf("'%s' is not a valid choice (valid: %v)", value, choices))
}

func errSyntax(file string, line int, msg string) *errors.CamError {
	return errors.New(errors.ErrConfigValidation, msg).SetFile(file).SetLine(line)
}
