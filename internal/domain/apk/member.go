package apk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ContainerExt is the extension of package container files.
	ContainerExt = ".apk"
	// DefaultBaseName is the file name of the base container in a split install.
	DefaultBaseName = "base.apk"
)

// ErrNoArtifacts is returned when a directory holds no usable container files.
var ErrNoArtifacts = errors.New("no valid APK files found")

// Role tells the base container apart from split containers.
type Role string

const (
	// RoleBase marks the container carrying the application manifest to patch.
	RoleBase Role = "base"
	// RoleSplit marks configuration and feature splits.
	RoleSplit Role = "split"
)

// Member is one container file of an install.
type Member struct {
	// Path is the absolute path of the file.
	Path string
	// Name is the base name of the file.
	Name string
	// Size is the file length in bytes.
	Size int64
	// Role is the member role derived from its name.
	Role Role
}

// ArtifactSet is the ordered, non-empty set of members found in one directory.
type ArtifactSet struct {
	// Dir is the directory the members were discovered in.
	Dir string
	// Members are sorted by file name.
	Members []Member
}

// IsContainer reports whether a file name looks like a container file.
// Dot files are skipped so temporary files of atomic replacements never count.
func IsContainer(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.EqualFold(filepath.Ext(name), ContainerExt)
}

// IsBaseName reports whether name identifies the base container
// ("base.apk" or a "base.apk-<suffix>" download name).
func IsBaseName(name, baseName string) bool {
	if baseName == "" {
		baseName = DefaultBaseName
	}

	return name == baseName || strings.HasPrefix(name, baseName+"-")
}

// Discover lists the non-empty container files of dir.
func Discover(dir, baseName string) (*ArtifactSet, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", absDir, err)
	}

	set := &ArtifactSet{Dir: absDir}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !IsContainer(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}

		if info.Size() == 0 {
			continue
		}

		role := RoleSplit
		if IsBaseName(entry.Name(), baseName) {
			role = RoleBase
		}

		set.Members = append(set.Members, Member{
			Path: filepath.Join(absDir, entry.Name()),
			Name: entry.Name(),
			Size: info.Size(),
			Role: role,
		})
	}

	if len(set.Members) == 0 {
		return nil, fmt.Errorf("%s: %w", absDir, ErrNoArtifacts)
	}

	return set, nil
}

// Base returns the base member. When no member carries the base name the first
// member is returned and matched is false, so callers can warn about the fallback.
func (s *ArtifactSet) Base() (member Member, matched bool) {
	for _, m := range s.Members {
		if m.Role == RoleBase {
			return m, true
		}
	}

	return s.Members[0], false
}

// Paths returns the member paths in set order.
func (s *ArtifactSet) Paths() []string {
	paths := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		paths = append(paths, m.Path)
	}

	return paths
}
