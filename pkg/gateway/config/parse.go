package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// FileExtension is the suffix of configuration files picked up from a directory.
const FileExtension = ".hcl"

func sourceError(summary, format string, args ...any) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   fmt.Sprintf(format, args...),
	}
}

// ParseConfigFiles parses each source into HCL bodies, in order. A source is
// a file path, a directory (every *.hcl file below it, in lexical order) or
// raw HCL as []byte.
func ParseConfigFiles(sources ...any) ([]hcl.Body, hcl.Diagnostics) {
	parser := hclparse.NewParser()
	var diags hcl.Diagnostics
	var bodies []hcl.Body

	add := func(file *hcl.File, fileDiags hcl.Diagnostics) {
		diags = diags.Extend(fileDiags)
		if file != nil {
			bodies = append(bodies, file.Body)
		}
	}

	for _, source := range sources {
		switch v := source.(type) {
		case []byte:
			add(parser.ParseHCL(v, fmt.Sprintf("<bytes@%p>", v)))

		case string:
			paths, pathDiags := collectFiles(v)
			diags = diags.Extend(pathDiags)
			for _, path := range paths {
				add(parser.ParseHCLFile(path))
			}

		default:
			diags = diags.Append(sourceError("Invalid source type", "Invalid source type: %T", v))
		}
	}

	return bodies, diags
}

// collectFiles expands path into the configuration files it names.
func collectFiles(path string) ([]string, hcl.Diagnostics) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, hcl.Diagnostics{sourceError("Failed to stat file", "Error statting %s: %s", path, err)}
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var diags hcl.Diagnostics
	var paths []string

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			diags = diags.Append(sourceError("Failed to access file or directory", "Error accessing %s: %s", p, err))
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(p, FileExtension) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		diags = diags.Append(sourceError("Failed to walk directory", "Error walking directory %s: %s", path, err))
	}

	sort.Strings(paths)
	return paths, diags
}
