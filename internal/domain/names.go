package domain

import (
	"crypto/rand"
	"fmt"
)

// Word lists for generated project IDs. Human-readable IDs make projects
// easy to tell apart in logs and storage paths.
var (
	projectAdjectives = []string{
		"amber", "ancient", "bold", "brave", "bright", "calm",
		"clever", "crimson", "curious", "eager", "fertile", "gentle",
		"golden", "green", "happy", "hidden", "lively", "lucky",
		"mellow", "misty", "quiet", "rustic", "sunny", "verdant",
		"vivid", "wild",
	}

	projectAnimals = []string{
		"badger", "bison", "crane", "falcon", "finch", "fox",
		"hare", "heron", "ibis", "lark", "lynx", "marmot",
		"marten", "otter", "owl", "plover", "quail", "raven",
		"robin", "sparrow", "stork", "swift", "tern", "vole",
		"weasel", "wren",
	}
)

const projectIDSuffixLen = 4

const projectIDSuffixCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateProjectID produces a readable random project ID of the form
// adjective-animal-suffix, e.g. "verdant-heron-k7x2". Collisions are
// possible; callers must retry against their store until unique.
func GenerateProjectID() (string, error) {
	buf := make([]byte, 2+projectIDSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate project ID: %w", err)
	}

	adjective := projectAdjectives[int(buf[0])%len(projectAdjectives)]
	animal := projectAnimals[int(buf[1])%len(projectAnimals)]

	suffix := make([]byte, projectIDSuffixLen)
	for i, b := range buf[2:] {
		suffix[i] = projectIDSuffixCharset[int(b)%len(projectIDSuffixCharset)]
	}

	return fmt.Sprintf("%s-%s-%s", adjective, animal, suffix), nil
}
