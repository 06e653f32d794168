package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// RegisterBuiltins installs the standard file, search, and shell tools.
// workspace anchors relative paths so tools stay inside the session's
// directory.
func RegisterBuiltins(r *Registry, workspace string) {
	r.MustRegister(ReadFileTool(workspace))
	r.MustRegister(WriteFileTool(workspace))
	r.MustRegister(ListDirectoryTool(workspace))
	r.MustRegister(GlobSearchTool(workspace))
	r.MustRegister(GrepSearchTool(workspace))
	r.MustRegister(RunBashTool(workspace))
}

// ReadFileTool returns a tool for reading file contents.
func ReadFileTool(workspace string) *Tool {
	return &Tool{
		Name:        "read_file",
		Description: "Read the contents of a file. Args: path (string).",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			path, err := pathArg(workspace, args)
			if err != nil {
				return "", err
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("reading file: %w", err)
			}
			return string(content), nil
		},
	}
}

// WriteFileTool returns a tool that writes (or overwrites) a file.
func WriteFileTool(workspace string) *Tool {
	return &Tool{
		Name:        "write_file",
		Description: "Write content to a file, creating parent directories. Args: path (string), content (string).",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			path, err := pathArg(workspace, args)
			if err != nil {
				return "", err
			}
			content, _ := args["content"].(string)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", fmt.Errorf("creating parent dirs: %w", err)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("writing file: %w", err)
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
		},
	}
}

// ListDirectoryTool returns a tool that lists directory entries.
func ListDirectoryTool(workspace string) *Tool {
	return &Tool{
		Name:        "list_directory",
		Description: "List the entries of a directory. Args: path (string, defaults to the workspace root).",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			path, err := pathArg(workspace, args)
			if err != nil {
				path = workspace
			}
			entries, err := os.ReadDir(path)
			if err != nil {
				return "", fmt.Errorf("listing directory: %w", err)
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			return strings.Join(names, "\n"), nil
		},
	}
}

// GlobSearchTool returns a tool that finds files matching a glob pattern.
// Patterns support doublestar globs like "**/*.go".
func GlobSearchTool(workspace string) *Tool {
	return &Tool{
		Name:        "glob_search",
		Description: "Find files matching a glob pattern, e.g. \"*.go\" or \"src/**/*.yaml\". Args: pattern (string), path (string, defaults to the workspace root).",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			pattern, _ := args["pattern"].(string)
			if pattern == "" {
				pattern, _ = args["input"].(string)
			}
			if pattern == "" {
				return "", fmt.Errorf("pattern is required")
			}
			root, err := searchRoot(workspace, args)
			if err != nil {
				return "", err
			}

			joined := filepath.Join(root, pattern)
			if workspace != "" {
				if rel, err := filepath.Rel(workspace, joined); err != nil || strings.HasPrefix(rel, "..") {
					return "", fmt.Errorf("pattern escapes workspace: %s", pattern)
				}
			}
			matches, err := doublestar.FilepathGlob(joined)
			if err != nil {
				return "", fmt.Errorf("glob %q: %w", pattern, err)
			}
			if len(matches) == 0 {
				return fmt.Sprintf("No files found matching pattern: %s", pattern), nil
			}

			sort.Strings(matches)
			lines := make([]string, 0, len(matches))
			for _, m := range matches {
				rel, err := filepath.Rel(root, m)
				if err != nil {
					rel = m
				}
				if info, err := os.Stat(m); err == nil && info.IsDir() {
					rel += "/"
				}
				lines = append(lines, rel)
			}
			return strings.Join(lines, "\n"), nil
		},
	}
}

const grepMaxResults = 100

// GrepSearchTool returns a tool that searches file contents with a regular
// expression. Matching is case-insensitive unless case_sensitive is set;
// results are capped at 100 lines.
func GrepSearchTool(workspace string) *Tool {
	return &Tool{
		Name:        "grep_search",
		Description: "Search file contents for a regular expression. Args: pattern (string), path (string, defaults to the workspace root), file_pattern (glob filter on file names), case_sensitive (bool, default false), max_results (int, default 100).",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			pattern, _ := args["pattern"].(string)
			if pattern == "" {
				pattern, _ = args["input"].(string)
			}
			if pattern == "" {
				return "", fmt.Errorf("pattern is required")
			}
			if sensitive, _ := args["case_sensitive"].(bool); !sensitive {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return "", fmt.Errorf("invalid regex pattern: %w", err)
			}

			root, err := searchRoot(workspace, args)
			if err != nil {
				return "", err
			}
			filePattern, _ := args["file_pattern"].(string)
			maxResults := grepMaxResults
			if n := intArg(args, "max_results"); n > 0 {
				maxResults = n
			}

			var lines []string
			walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				rel, err := filepath.Rel(root, path)
				if err != nil {
					rel = path
				}
				if filePattern != "" {
					target := d.Name()
					if strings.ContainsRune(filePattern, '/') {
						target = filepath.ToSlash(rel)
					}
					if ok, _ := doublestar.Match(filePattern, target); !ok {
						return nil
					}
				}
				matched, err := grepFile(path, rel, re, maxResults-len(lines))
				if err != nil {
					// Unreadable or binary files are skipped, not fatal.
					return nil
				}
				lines = append(lines, matched...)
				if len(lines) >= maxResults {
					return fs.SkipAll
				}
				return nil
			})
			if walkErr != nil {
				return "", fmt.Errorf("searching %s: %w", root, walkErr)
			}

			if len(lines) == 0 {
				return fmt.Sprintf("No matches found for pattern: %s", pattern), nil
			}
			out := strings.Join(lines, "\n")
			if len(lines) >= maxResults {
				out += fmt.Sprintf("\n(limited to %d results)", maxResults)
			}
			return out, nil
		},
	}
}

// grepFile scans one file line by line and returns up to limit matches
// formatted as "path:line: content".
func grepFile(path, rel string, re *regexp.Regexp, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matched []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.ContainsRune(line, 0) {
			return nil, fmt.Errorf("binary file")
		}
		if re.MatchString(line) {
			matched = append(matched, fmt.Sprintf("%s:%d: %s", rel, lineNum, strings.TrimRight(line, "\r")))
			if len(matched) >= limit {
				break
			}
		}
	}
	return matched, scanner.Err()
}

// searchRoot resolves the optional "path" argument for the search tools,
// defaulting to the workspace root.
func searchRoot(workspace string, args map[string]any) (string, error) {
	if p, _ := args["path"].(string); p == "" {
		return workspace, nil
	}
	return pathArg(workspace, args)
}

// RunBashTool returns a tool that executes a shell command in the
// workspace. Output is combined stdout and stderr; a nonzero exit is
// reported in the observation rather than as an error so the engine
// sees what went wrong.
func RunBashTool(workspace string) *Tool {
	return &Tool{
		Name:        "run_bash",
		Description: "Execute a shell command. Args: command (string), timeout_seconds (int, default 60).",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			command, _ := args["command"].(string)
			if command == "" {
				command, _ = args["input"].(string)
			}
			if command == "" {
				return "", fmt.Errorf("command is required")
			}

			timeout := 60 * time.Second
			if secs := intArg(args, "timeout_seconds"); secs > 0 {
				timeout = time.Duration(secs) * time.Second
			}
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, "sh", "-c", command)
			cmd.Dir = workspace
			cmd.Env = os.Environ()

			var out bytes.Buffer
			cmd.Stdout = &out
			cmd.Stderr = &out
			err := cmd.Run()

			result := strings.TrimRight(out.String(), "\n")
			if runCtx.Err() == context.DeadlineExceeded {
				return "", fmt.Errorf("command timed out after %s", timeout)
			}
			if err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok {
					return fmt.Sprintf("exit code %d\n%s", exitErr.ExitCode(), result), nil
				}
				return "", fmt.Errorf("running command: %w", err)
			}
			return result, nil
		},
	}
}

// pathArg resolves the "path" argument (or the bare "input" fallback)
// against the workspace and rejects escapes above it.
func pathArg(workspace string, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path, _ = args["input"].(string)
	}
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	cleaned := filepath.Clean(path)
	if workspace != "" {
		rel, err := filepath.Rel(workspace, cleaned)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("path escapes workspace: %s", path)
		}
	}
	return cleaned, nil
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
