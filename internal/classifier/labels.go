package classifier

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tphakala/birdnet-walker/internal/errors"
	"github.com/tphakala/birdnet-walker/internal/logger"
)

// Languages returns the language codes of the <lang>.txt files in dir, sorted.
func Languages(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, err
	}
	langs := make([]string, 0, len(matches))
	for _, m := range matches {
		if info, err := os.Stat(m); err != nil || info.IsDir() {
			continue
		}
		langs = append(langs, strings.TrimSuffix(filepath.Base(m), ".txt"))
	}
	slices.Sort(langs)
	return langs, nil
}

// LoadLabels reads <dir>/<lang>.txt into a map from scientific to local name.
// Lines that do not split into exactly two parts on "_" are skipped.
func LoadLabels(dir, lang string, log logger.Logger) (map[string]string, error) {
	path := filepath.Join(dir, lang+".txt")
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("language", lang).
			Build()
	}
	defer func() { _ = f.Close() }()

	labels := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, "_")
		if len(parts) != 2 {
			if log != nil {
				log.Warn("invalid label line",
					logger.String("file", filepath.Base(path)),
					logger.Int("line", lineNum),
					logger.String("content", line))
			}
			continue
		}
		labels[normalize(parts[0])] = normalize(parts[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("language", lang).
			Build()
	}
	if log != nil {
		log.Info("labels loaded", logger.String("language", lang), logger.Int("count", len(labels)))
	}
	return labels, nil
}

// LoadLabelFile reads a label file in model output order, one raw label per
// line.
func LoadLabelFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("path", path).
			Build()
	}
	defer func() { _ = f.Close() }()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, normalize(line))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading label file %s: %w", path, err)
	}
	if len(labels) == 0 {
		return nil, errors.Newf("label file %s is empty", path).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Build()
	}
	return labels, nil
}

// Translation holds the names of one species from the translation table.
type Translation struct {
	English string
	German  string
	Czech   string
}

// LoadTranslations reads a CSV with the header scientific,en,de,cs.
func LoadTranslations(path string) (map[string]Translation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer func() { _ = f.Close() }()
	return parseTranslations(f)
}

func parseTranslations(r io.Reader) (map[string]Translation, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading translation header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	sciCol, ok := cols["scientific"]
	if !ok {
		return nil, errors.Newf("translation table has no scientific column").
			Component("classifier").
			Category(errors.CategoryFileParsing).
			Build()
	}
	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return normalize(rec[i])
	}

	table := make(map[string]Translation)
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading translation table: %w", err)
		}
		if sciCol >= len(rec) {
			continue
		}
		sci := normalize(rec[sciCol])
		if sci == "" {
			continue
		}
		if _, dup := table[sci]; dup {
			continue
		}
		table[sci] = Translation{
			English: field(rec, "en"),
			German:  field(rec, "de"),
			Czech:   field(rec, "cs"),
		}
	}
	return table, nil
}

// SpeciesNames are the names stored with a detection.
type SpeciesNames struct {
	Scientific string
	Local      string
	Czech      string
}

// NameResolver maps scientific names to the names stored with a detection.
type NameResolver struct {
	labels       map[string]string
	translations map[string]Translation
}

// NewNameResolver builds a resolver from a label map and an optional
// translation table. Either may be nil.
func NewNameResolver(labels map[string]string, translations map[string]Translation) *NameResolver {
	return &NameResolver{labels: labels, translations: translations}
}

// Resolve returns the names for scientific. Missing local or Czech names fall
// back to the scientific name.
func (n *NameResolver) Resolve(scientific string) SpeciesNames {
	sci := normalize(scientific)
	names := SpeciesNames{Scientific: sci, Local: sci, Czech: sci}
	if n == nil {
		return names
	}
	if local, ok := n.labels[sci]; ok && local != "" {
		names.Local = local
	}
	if tr, ok := n.translations[sci]; ok && tr.Czech != "" {
		names.Czech = tr.Czech
	}
	return names
}

// normalize trims and converts to NFC so names from different sources compare
// equal.
func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
