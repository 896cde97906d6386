// Package pipeline sequences a full generation run: scan the per-class
// archives twice (headers, then records), build the class and object trees
// in memory, compute their closures, write the chunked dump files, and
// persist everything into the SQLite snapshot in foreign-key order.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/dumpforge/internal/archive"
	"github.com/agentic-research/dumpforge/internal/registry"
	"github.com/agentic-research/dumpforge/internal/store"
)

var (
	ErrStageOrder      = errors.New("pipeline stage out of order")
	ErrMalformedRecord = errors.New("malformed dump record")
	ErrNoArchives      = errors.New("no dump archives found")
)

// Config is everything one generation run needs.
type Config struct {
	SourceDir     string // directory of <Class>.dump[.xz|.gz] archives
	OutDir        string // chunk file + manifest output, truncated per run
	DBPath        string // SQLite file, wiped per run
	MaxChunkBytes int64  // uncompressed chunk cap; 0 means the default
	CategoryFile  string // optional HCL category table override
	Verbose       bool
	ShowClassTree bool
	ClassTreeOut  io.Writer        // destination for --show-class-tree, default stdout
	FS            billy.Filesystem // archive/chunk filesystem, default osfs root
}

// Stats summarizes a finished run; it is also what lands in manifest.json.
type Stats struct {
	Classes             int    `json:"classes"`
	Categories          int    `json:"categories"`
	Objects             int    `json:"objects"`
	DumpedObjects       int    `json:"dumped_objects"`
	ChunkFiles          int    `json:"chunk_files"`
	ClassAncestorRows   uint64 `json:"class_ancestor_rows"`
	ClassDescendantRows uint64 `json:"class_descendant_rows"`
	ShowClassRows       uint64 `json:"show_class_rows"`
	Elapsed             string `json:"elapsed"`
	GeneratedAt         string `json:"generated_at"`
}

// Pipeline holds the run's state. The database connection is owned here
// exclusively; no other component touches it.
type Pipeline struct {
	cfg   Config
	fs    billy.Filesystem
	stage Stage

	categories *registry.CategoryIndex
	classes    *registry.ClassTree
	objects    *registry.ObjectTree
	db         *store.Store
	stats      Stats
}

// Run executes a complete generation run and returns its stats.
func Run(ctx context.Context, cfg Config) (*Stats, error) {
	p := &Pipeline{cfg: cfg, fs: cfg.FS, stage: StageInit}
	if p.fs == nil {
		p.fs = osfs.New("/")
	}
	if p.cfg.ClassTreeOut == nil {
		p.cfg.ClassTreeOut = os.Stdout
	}
	start := time.Now()

	steps := []struct {
		next Stage
		run  func() error
	}{
		{StageSchemaCreated, p.createSchema},
		{StageCategoriesLoaded, p.loadCategories},
		{StageClassesBuilt, p.buildClasses},
		{StageClassClosuresComputed, p.computeClassClosures},
		{StageClassesPersisted, p.persistClasses},
		{StageObjectsBuilt, p.buildObjects},
		{StageObjectClosuresComputed, p.computeObjectClosures},
		{StageObjectsPersisted, p.persistObjects},
		{StageClassCountersFixed, p.fixClassCounters},
		{StageDone, p.finish},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			p.closeDB()
			return nil, err
		}
		if err := step.run(); err != nil {
			p.closeDB()
			return nil, fmt.Errorf("stage %s: %w", step.next, err)
		}
		if err := p.advance(step.next); err != nil {
			p.closeDB()
			return nil, err
		}
	}

	p.stats.Elapsed = time.Since(start).Round(time.Millisecond).String()
	return &p.stats, nil
}

// Stage returns the pipeline's current stage.
func (p *Pipeline) Stage() Stage { return p.stage }

func (p *Pipeline) advance(next Stage) error {
	if next != p.stage+1 {
		return fmt.Errorf("%w: %s -> %s", ErrStageOrder, p.stage, next)
	}
	p.stage = next
	p.vlog(" - %s", next)
	return nil
}

func (p *Pipeline) vlog(format string, args ...any) {
	if p.cfg.Verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func (p *Pipeline) closeDB() {
	if p.db != nil {
		_ = p.db.Close()
		p.db = nil
	}
}

// createSchema truncates the output directory and database. Reruns always
// rebuild from scratch; nothing is ever patched incrementally.
func (p *Pipeline) createSchema() error {
	if err := util.RemoveAll(p.fs, p.cfg.OutDir); err != nil {
		return fmt.Errorf("truncate output dir %s: %w", p.cfg.OutDir, err)
	}
	if err := p.fs.MkdirAll(p.cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", p.cfg.OutDir, err)
	}
	db, err := store.Create(p.cfg.DBPath)
	if err != nil {
		return err
	}
	p.db = db
	return nil
}

func (p *Pipeline) loadCategories() error {
	if p.cfg.CategoryFile != "" {
		idx, err := registry.LoadCategoryFile(p.cfg.CategoryFile)
		if err != nil {
			return err
		}
		p.categories = idx
	} else {
		p.categories = registry.DefaultCategories()
	}
	return nil
}

// buildClasses is pass 1: a header-only scan of every archive for its
// parent declaration. Forward references are fine — a class referenced as
// a parent before its own archive is scanned exists as a placeholder until
// then, and Validate insists every placeholder was eventually completed.
func (p *Pipeline) buildClasses() error {
	names, err := p.listArchives()
	if err != nil {
		return err
	}
	p.classes = registry.NewClassTree()
	for _, className := range names {
		if err := p.scanClassHeader(className); err != nil {
			return err
		}
	}
	if err := p.classes.Validate(); err != nil {
		return err
	}
	p.stats.Classes = p.classes.Len()
	return nil
}

func (p *Pipeline) scanClassHeader(className string) error {
	r, err := archive.Open(p.fs, p.cfg.SourceDir, className)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	node := p.classes.GetOrCreate(className)
	node.Defined = true
	node.Category = p.categories.Classify(className)

	for {
		line, err := r.Next()
		if err == io.EOF {
			// No parent declaration: the node stays parentless and
			// Validate rejects the run unless it is the sole root.
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", className, err)
		}
		parentName, ok := archive.ParseParent(line)
		if !ok {
			continue
		}
		parent := p.classes.GetOrCreate(parentName)
		if parent == nil {
			p.classes.DeclareRoot(node)
			return nil
		}
		return p.classes.SetParent(node, parent)
	}
}

func (p *Pipeline) computeClassClosures() error {
	if err := p.classes.AssignIDs(); err != nil {
		return err
	}
	if err := p.classes.ComputeAggregates(); err != nil {
		return err
	}
	if err := p.classes.ComputeSubclasses(); err != nil {
		return err
	}
	for _, n := range p.classes.All() {
		p.stats.ClassAncestorRows += n.AggregateIDs.GetCardinality()
		p.stats.ClassDescendantRows += n.SubclassIDs.GetCardinality()
	}
	if p.cfg.ShowClassTree {
		root, err := p.classes.Root()
		if err != nil {
			return err
		}
		fmt.Fprintln(p.cfg.ClassTreeOut, "Generated class tree:")
		root.Display(p.cfg.ClassTreeOut, 0)
	}
	return nil
}

func (p *Pipeline) persistClasses() error {
	if err := p.db.InsertCategories(p.categories); err != nil {
		return err
	}
	p.stats.Categories = len(p.categories.Categories())
	if err := p.db.InsertClasses(p.classes); err != nil {
		return err
	}
	return p.db.InsertClassClosures(p.classes)
}

// buildObjects is pass 2: the full record scan. Records stream through one
// at a time — the chunk writer needs a complete record to place it, but
// never more than one, and never a whole archive.
func (p *Pipeline) buildObjects() error {
	names, err := p.listArchives()
	if err != nil {
		return err
	}
	p.objects = registry.NewObjectTree(p.classes)
	for _, className := range names {
		if err := p.splitClassArchive(className); err != nil {
			return err
		}
	}
	for _, n := range p.objects.All() {
		if n.HasDump() {
			p.stats.DumpedObjects++
		}
	}
	p.stats.Objects = p.objects.Len()
	return nil
}

func (p *Pipeline) splitClassArchive(className string) (err error) {
	node, ok := p.classes.Lookup(className)
	if !ok {
		return fmt.Errorf("class %s vanished between passes", className)
	}
	r, err := archive.Open(p.fs, p.cfg.SourceDir, className)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	w := archive.NewChunkWriter(p.fs, p.cfg.OutDir, className, p.cfg.MaxChunkBytes)
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
		node.NumChunkFiles = w.Chunks()
		p.stats.ChunkFiles += w.Chunks()
	}()

	p.vlog("   > %s", className)

	var pendingName string
	var pending bytes.Buffer
	flush := func() error {
		if pendingName == "" {
			return nil
		}
		index, offset, err := w.Append(pending.Bytes())
		if err != nil {
			return err
		}
		obj, err := p.objects.GetOrCreate(pendingName, node, index, offset)
		if err != nil {
			return err
		}
		p.objects.FinalizeSpan(obj, offset+int64(pending.Len()))
		pendingName = ""
		pending.Reset()
		return nil
	}

	for {
		line, err := r.Next()
		if err == io.EOF {
			return flush()
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", className, err)
		}
		if archive.IsHeaderCandidate(line) {
			headerClass, objectName, ok := archive.ParseHeader(line)
			if !ok {
				return fmt.Errorf("%w: %s: unparseable header %q", ErrMalformedRecord, className, strings.TrimSpace(line))
			}
			if !strings.EqualFold(headerClass, className) {
				return fmt.Errorf("%w: %s: record for class %s in wrong archive", ErrMalformedRecord, className, headerClass)
			}
			if err := flush(); err != nil {
				return err
			}
			pendingName = objectName
		} else if pendingName == "" && strings.TrimSpace(line) != "" {
			return fmt.Errorf("%w: %s: content before first record header", ErrMalformedRecord, className)
		}
		if pendingName != "" {
			pending.WriteString(line)
		}
	}
}

func (p *Pipeline) computeObjectClosures() error {
	if err := p.objects.ComputeShowClassIDs(); err != nil {
		return err
	}
	for _, n := range p.objects.All() {
		if n.ShowClassIDs != nil {
			p.stats.ShowClassRows += n.ShowClassIDs.GetCardinality()
		}
	}
	return nil
}

func (p *Pipeline) persistObjects() error {
	p.objects.AssignIDs()
	if err := p.db.InsertObjects(p.objects); err != nil {
		return err
	}
	return p.db.InsertObjectShowClasses(p.objects)
}

func (p *Pipeline) fixClassCounters() error {
	return p.db.FixClassCounters(p.classes)
}

func (p *Pipeline) finish() error {
	p.stats.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	if err := p.writeManifest(); err != nil {
		return err
	}
	err := p.db.Close()
	p.db = nil
	return err
}

// listArchives returns the class names with an archive under SourceDir,
// sorted case-insensitively for a deterministic processing order.
func (p *Pipeline) listArchives() ([]string, error) {
	entries, err := p.fs.ReadDir(p.cfg.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("list archives in %s: %w", p.cfg.SourceDir, err)
	}
	var names []string
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		class, ok := archive.ClassNameFromFilename(e.Name())
		if !ok {
			continue
		}
		folded := strings.ToLower(class)
		if _, dup := seen[folded]; dup {
			continue
		}
		seen[folded] = struct{}{}
		names = append(names, class)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoArchives, p.cfg.SourceDir)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names, nil
}
