// ABOUTME: Configuration package for pcmdeck
// ABOUTME: YAML settings layered over built-in defaults
// Package config loads pcmdeck settings from YAML.
//
// Every field has a default, so a file only needs the settings it changes.
package config
