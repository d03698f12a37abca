package job

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/recotune/recotune/pkg/jobdef"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var submitPaths []string

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit tuning job definitions via the REST API",
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := collectDefinitions(submitPaths)
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			return writeCmdOut(cmd, "No job definitions found.\n")
		}

		c := apiClient()
		for _, def := range defs {
			raw, err := yaml.Marshal(def)
			if err != nil {
				return err
			}
			job, err := c.SubmitJob(cmd.Context(), raw)
			if err != nil {
				return fmt.Errorf("submit %s: %w", def.Metadata.Alias, err)
			}
			if err := writeCmdOut(cmd, "Submitted job %d (%s)\n", job.ID, job.Alias); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().StringSliceVarP(&submitPaths, "path", "p", nil, "Paths to job definition files or directories (default: current directory)")
}

func collectDefinitions(paths []string) ([]*jobdef.Definition, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}

	var defs []*jobdef.Definition
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			if err := filepath.WalkDir(p, func(path string, d os.DirEntry, walkErr error) error {
				if walkErr != nil {
					return walkErr
				}
				if d.IsDir() {
					return nil
				}
				if !isYAML(path) {
					return nil
				}
				return appendDefinitions(path, &defs)
			}); err != nil {
				return nil, err
			}
		} else {
			if !isYAML(p) {
				return nil, fmt.Errorf("%s is not a YAML file", p)
			}
			if err := appendDefinitions(p, &defs); err != nil {
				return nil, err
			}
		}
	}
	return defs, nil
}

// appendDefinitions reads every document of a multi-document YAML file.
func appendDefinitions(path string, defs *[]*jobdef.Definition) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("%s: %w", path, err)
		}
		if isBlankDocument(&node) {
			continue
		}

		raw, err := yaml.Marshal(&node)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		def, err := jobdef.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		*defs = append(*defs, def)
	}

	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func isBlankDocument(node *yaml.Node) bool {
	if node.Kind == 0 {
		return true
	}
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return true
		}
		inner := node.Content[0]
		return inner.Kind == yaml.ScalarNode && inner.Tag == "!!null"
	}
	return false
}
