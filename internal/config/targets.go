package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/tOgg1/fedeploy/internal/logging"
	"github.com/tOgg1/fedeploy/internal/models"
)

const (
	// DeployDir is the per-project directory holding deploy files.
	DeployDir = "deploy"

	// DeployConfigName is the root deploy file inside DeployDir.
	DeployConfigName = "deploy.config.yaml"

	// SubConfigDir holds extra environment files merged onto the root file.
	SubConfigDir = "conf"
)

// Root keys shared by every environment in a deploy file.
const (
	keyPrivateKey  = "privateKey"
	keyPassphrase  = "passphrase"
	keyProjectName = "projectName"
)

// ErrUnknownTarget is returned by Check for a command with no environment.
var ErrUnknownTarget = errors.New("unknown deploy target")

// DefaultDeployConfigPath returns deploy/deploy.config.yaml.
func DefaultDeployConfigPath() string {
	return filepath.Join(DeployDir, DeployConfigName)
}

// SkippedFile is a sub-config that could not be parsed.
type SkippedFile struct {
	Path string
	Err  error
}

// TargetFile is a loaded deploy file: the merged root map and one target per
// environment key.
type TargetFile struct {
	// Path is the root deploy file.
	Path string

	// ProjectName is shared by every environment.
	ProjectName string

	// Skipped lists sub-configs that failed to parse.
	Skipped []SkippedFile

	envs map[string]*environment
}

type environment struct {
	target    *models.Target
	raw       map[string]any
	decodeErr error
}

// LoadTargets reads the deploy file at path and merges every *.yaml/*.yml
// file from the sibling conf/ directory onto it, in lexical order. Merging is
// shallow: a top-level key in a later file replaces the earlier value whole.
func LoadTargets(path string) (*TargetFile, error) {
	root, err := readYAMLMap(path)
	if err != nil {
		return nil, fmt.Errorf("load deploy config: %w", err)
	}

	logger := logging.Component("config")
	file := &TargetFile{Path: path}

	subDir := filepath.Join(filepath.Dir(path), SubConfigDir)
	entries, err := os.ReadDir(subDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", subDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		subPath := filepath.Join(subDir, entry.Name())
		sub, err := readYAMLMap(subPath)
		if err != nil {
			logger.Warn().Err(err).Str("file", subPath).Msg("skipping sub-config")
			file.Skipped = append(file.Skipped, SkippedFile{Path: subPath, Err: err})
			continue
		}
		logger.Debug().Str("file", subPath).Int("keys", len(sub)).Msg("merged sub-config")
		maps.Copy(root, sub)
	}

	logger.Trace().Interface("config", logging.RedactMap(root)).Msg("deploy config loaded")

	file.ProjectName = stringValue(root[keyProjectName])
	privateKey := stringValue(root[keyPrivateKey])
	passphrase := stringValue(root[keyPassphrase])

	file.envs = make(map[string]*environment)
	for key, value := range root {
		envMap, ok := value.(map[string]any)
		if !ok {
			continue
		}
		target, decodeErr := decodeTarget(envMap)
		target.Command = key
		target.ProjectName = file.ProjectName
		target.PrivateKey = privateKey
		target.Passphrase = passphrase
		file.envs[key] = &environment{target: target, raw: envMap, decodeErr: decodeErr}
	}

	return file, nil
}

// Commands returns every environment key, sorted.
func (f *TargetFile) Commands() []string {
	return slices.Sorted(maps.Keys(f.envs))
}

// Target returns the target registered under command. The target is not
// validated; call Check before deploying it.
func (f *TargetFile) Target(command string) (*models.Target, bool) {
	env, ok := f.envs[command]
	if !ok {
		return nil, false
	}
	return env.target, true
}

// Check validates one environment. Keys absent from the file are reported
// as "missing" and keys present but empty as "is not set", both in a single
// *models.ValidationErrors.
func (f *TargetFile) Check(command string) error {
	env, ok := f.envs[command]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, command)
	}

	validation := &models.ValidationErrors{Scope: command}
	for _, key := range models.RequiredKeys(env.target.AuthMode()) {
		value, present := env.raw[key]
		switch {
		case !present:
			validation.Add(key, models.ErrMissingKey)
		case value == nil || value == "":
			validation.AddMessage(key, "is not set")
		}
	}
	if err := validation.Err(); err != nil {
		return err
	}

	if env.decodeErr != nil {
		validation.AddMessage("config", env.decodeErr.Error())
		return validation.Err()
	}

	return env.target.Validate()
}

func decodeTarget(raw map[string]any) (*models.Target, error) {
	target := &models.Target{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return target, err
	}
	return target, decoder.Decode(raw)
}

func readYAMLMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	root := map[string]any{}
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return root, nil
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func stringValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
