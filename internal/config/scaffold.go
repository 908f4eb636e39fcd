package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by Scaffold when the deploy file is already there.
var ErrConfigExists = errors.New("deploy config already exists")

// Scaffold writes a template deploy file with dev and prod environments under
// dir/deploy, along with an empty conf/ directory. It returns the file path.
func Scaffold(dir string) (string, error) {
	deployDir := filepath.Join(dir, DeployDir)
	path := filepath.Join(deployDir, DeployConfigName)

	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	if err := os.MkdirAll(filepath.Join(deployDir, SubConfigDir), 0755); err != nil {
		return path, fmt.Errorf("create %s: %w", deployDir, err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return path, fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
		return path, err
	}

	encoder := yaml.NewEncoder(file)
	encoder.SetIndent(2)
	if err := encoder.Encode(templateDocument()); err != nil {
		file.Close()
		return path, fmt.Errorf("write %s: %w", path, err)
	}
	if err := encoder.Close(); err != nil {
		file.Close()
		return path, err
	}
	return path, file.Close()
}

func templateDocument() *yaml.Node {
	root := mapping()

	addScalar(root, keyPrivateKey, "", "local private key path; when set, password is ignored")
	addScalar(root, keyPassphrase, "", "private key passphrase, optional")
	addScalar(root, keyProjectName, "my-project", "")

	addMapping(root, "dev", templateEnvironment("test", "/home/wwwroot/test"))
	addMapping(root, "prod", templateEnvironment("production", "/home/wwwroot/deploy"))

	return &yaml.Node{
		Kind: yaml.DocumentNode,
		HeadComment: "# fedeploy deploy config. Every top-level mapping is one environment,\n" +
			"# invoked as `fedeploy <key>`. Files in conf/ are merged on top of this one.",
		Content: []*yaml.Node{root},
	}
}

func templateEnvironment(name, remoteRoot string) *yaml.Node {
	env := mapping()
	addScalar(env, "name", name, "display name")
	addScalar(env, "script", "npm run build:prod", "local build command")
	addScalar(env, "host", "", "server address")
	addInt(env, "port", 22)
	addScalar(env, "username", "", "")
	addScalar(env, "password", "", "plain value or keyring:<service>/<user>")
	addScalar(env, "projectDir", "/projects/deploy", "local project directory")
	addScalar(env, "distPath", "dist", "build output, relative to projectDir")
	addScalar(env, "webDir", remoteRoot+"/web", "remote live directory")
	addScalar(env, "backupDir", remoteRoot+"/bak", "remote backup directory")
	return env
}

func mapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func addScalar(node *yaml.Node, key, value, comment string) {
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value, LineComment: lineComment(comment)},
	)
}

func addInt(node *yaml.Node, key string, value int) {
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(value)},
	)
}

func addMapping(node *yaml.Node, key string, value *yaml.Node) {
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}

func lineComment(text string) string {
	if text == "" {
		return ""
	}
	return "# " + text
}
