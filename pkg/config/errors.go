package config

import "errors"

var (
	ErrNoDirectories     = errors.New("config: directory list is empty")
	ErrTooManyDirectories = errors.New("config: more than MaxGroup directories configured")
	ErrDuplicateDirectory = errors.New("config: duplicate directory path")
)
