package grammar

import (
	"embed"
	"io/fs"
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	"querygate/internal/logging"
	"querygate/internal/types"
)

//go:embed grammars/*.peg
var assets embed.FS

// Registry compiles each language's grammar asset once and caches the result.
type Registry struct {
	fsys fs.FS

	mu      sync.Mutex
	entries map[types.QueryLanguage]*registryEntry
}

type registryEntry struct {
	once    sync.Once
	grammar *Grammar
	err     error
}

// NewRegistry reads assets named <language>.peg from fsys. A nil fsys uses the
// embedded grammars.
func NewRegistry(fsys fs.FS) *Registry {
	if fsys == nil {
		sub, err := fs.Sub(assets, "grammars")
		if err != nil {
			panic(err)
		}
		fsys = sub
	}
	return &Registry{fsys: fsys, entries: make(map[types.QueryLanguage]*registryEntry)}
}

// NewDirRegistry loads grammar assets from a directory, for operators who
// extend a grammar without rebuilding.
func NewDirRegistry(dir string) (*Registry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "grammar directory %s", dir)
	}
	if !info.IsDir() {
		return nil, errors.Newf("grammar path %s is not a directory", dir)
	}
	return NewRegistry(os.DirFS(dir)), nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process wide registry of embedded grammars.
func Default() *Registry {
	defaultOnce.Do(func() { defaultRegistry = NewRegistry(nil) })
	return defaultRegistry
}

// Grammar returns the compiled grammar for lang.
func (r *Registry) Grammar(lang types.QueryLanguage) (*Grammar, error) {
	if !lang.Valid() {
		return nil, errors.Wrapf(types.ErrUnknownLanguage, "%q", string(lang))
	}

	r.mu.Lock()
	entry, ok := r.entries[lang]
	if !ok {
		entry = &registryEntry{}
		r.entries[lang] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		timer := logging.StartTimer(logging.CategorySyntax, "compile "+string(lang))
		defer timer.Stop()

		src, err := fs.ReadFile(r.fsys, string(lang)+".peg")
		if err != nil {
			entry.err = &types.GrammarError{Grammar: string(lang), Msg: "asset unreadable: " + err.Error()}
			return
		}
		entry.grammar, entry.err = Compile(string(lang), string(src))
		if entry.err != nil {
			logging.Get(logging.CategorySyntax).Error("grammar compile failed: %v", entry.err)
		}
	})
	return entry.grammar, entry.err
}

// Parse is a convenience wrapper around Grammar and Parse.
func (r *Registry) Parse(lang types.QueryLanguage, text string) (*Tree, error) {
	g, err := r.Grammar(lang)
	if err != nil {
		return nil, err
	}
	return g.Parse(text)
}
