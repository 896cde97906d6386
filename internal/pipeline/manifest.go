package pipeline

import (
	"fmt"

	"github.com/go-git/go-billy/v5/util"
	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
)

// ManifestName is the run-stats file dropped next to the chunk files.
const ManifestName = "manifest.json"

func (p *Pipeline) writeManifest() error {
	path := p.fs.Join(p.cfg.OutDir, ManifestName)
	data := oj.JSON(&p.stats, &ojg.Options{Indent: 2, UseTags: true})
	if err := util.WriteFile(p.fs, path, []byte(data+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
