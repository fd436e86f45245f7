package dataset

import (
	"fmt"

	"github.com/ironsheep/marida-corpus-mcp/internal/config"
	"github.com/ironsheep/marida-corpus-mcp/internal/patch"
)

// Corpus holds the three splits of one corpus, sharing a label table and
// patch cache.
type Corpus struct {
	Train *Dataset
	Val   *Dataset
	Test  *Dataset
}

// OpenCorpus opens train, val and test with the same options and fails with
// ErrSplitOverlap if any identifier appears in more than one of them.
func OpenCorpus(cfg *config.Config, opts ...Option) (*Corpus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o, err := resolveOptions(cfg, opts)
	if err != nil {
		return nil, err
	}

	lists := make(map[string][]patch.Identifier, len(Splits))
	for _, name := range Splits {
		ids, err := ReadSplit(cfg.SplitFile(name))
		if err != nil {
			return nil, err
		}
		lists[name] = ids
	}
	if err := CheckDisjoint(Splits, lists); err != nil {
		return nil, err
	}

	c := &Corpus{}
	for _, name := range Splits {
		d, err := build(cfg, name, lists[name], o)
		if err != nil {
			return nil, err
		}
		switch name {
		case Train:
			c.Train = d
		case Val:
			c.Val = d
		case Test:
			c.Test = d
		}
	}
	return c, nil
}

// Split returns the dataset for name.
func (c *Corpus) Split(name string) (*Dataset, error) {
	switch name {
	case Train:
		return c.Train, nil
	case Val:
		return c.Val, nil
	case Test:
		return c.Test, nil
	}
	return nil, fmt.Errorf("unknown split %q, want one of %v", name, Splits)
}

// Sizes returns the number of patches per split.
func (c *Corpus) Sizes() map[string]int {
	return map[string]int{
		Train: c.Train.Size(),
		Val:   c.Val.Size(),
		Test:  c.Test.Size(),
	}
}
