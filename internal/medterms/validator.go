package medterms

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"medvoice/internal/domain"
)

// patternClasses recognizes medical vocabulary inside a transcript. Each
// class carries its own expression so matches can be reported by kind.
var patternClasses = []struct {
	name string
	re   *regexp.Regexp
}{
	{"measurements", regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:mg|mcg|ml|g|kg|mmHg|°[CF]|cm|mm|IU|mEq|L)\b`)},
	{"vital_signs", regexp.MustCompile(`\b(?:BP|HR|RR|SpO2|Temp|GCS|MAP)[:\s]*\d+(?:/\d+)?\b`)},
	{"abbreviations", regexp.MustCompile(`\b(?:IV|IM|SC|PO|PRN|bid|tid|qid|qd|hs|stat|NPO|N/V|SOB|CP)\b`)},
	{"lab_values", regexp.MustCompile(`\b(?:WBC|RBC|Hgb|Hct|PLT|Na\+|K\+|Cl-|HCO3-|BUN|Cr|GFR|AST|ALT)[:\s]*\d+(?:\.\d+)?\b`)},
	{"anatomical_terms", regexp.MustCompile(`(?i)\b(?:lateral|medial|anterior|posterior|superior|inferior|proximal|distal|bilateral)\b`)},
	{"procedures", regexp.MustCompile(`(?i)\b(?:MRI|CT|X-ray|EKG|ECG|EEG|PET|ultrasound|biopsy|endoscopy)\b`)},
	{"conditions", regexp.MustCompile(`(?i)\b(?:hypertension|diabetes|asthma|COPD|CHF|CAD|MI|CVA|DVT|PE)\b`)},
}

// abbreviationGlossary maps established abbreviations to their expansions,
// surfaced as warnings so the reader of a translation sees both forms.
var abbreviationGlossary = map[string]string{
	"BP":   "Blood Pressure",
	"HR":   "Heart Rate",
	"RR":   "Respiratory Rate",
	"TEMP": "Temperature",
	"O2":   "Oxygen",
	"IV":   "Intravenous",
	"IM":   "Intramuscular",
	"PO":   "Per Os (by mouth)",
	"BID":  "Twice daily",
	"TID":  "Three times daily",
	"QID":  "Four times daily",
	"PRN":  "As needed",
	"STAT": "Immediately",
	"NPO":  "Nothing by mouth",
}

type correctionRule struct {
	from string
	to   string
	re   *regexp.Regexp
}

// Validator corrects misrecognized terminology and annotates transcripts
// with the medical vocabulary they contain. Correction rules load from a
// plain text file of "heard => corrected" lines; a missing file means no
// corrections, never an error.
type Validator struct {
	rules     []correctionRule
	loopLimit int
}

func NewValidator(rulesPath string) (*Validator, error) {
	v := &Validator{loopLimit: 30}
	if strings.TrimSpace(rulesPath) == "" {
		return v, nil
	}

	contents, err := os.ReadFile(rulesPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read terminology rules %q: %w", rulesPath, err)
	}

	rules, err := parseCorrectionRules(string(contents))
	if err != nil {
		return nil, fmt.Errorf("failed to parse terminology rules %q: %w", rulesPath, err)
	}
	v.rules = rules
	return v, nil
}

func parseCorrectionRules(contents string) ([]correctionRule, error) {
	lines := strings.Split(contents, "\n")
	rules := make([]correctionRule, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=>", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: expected \"heard => corrected\"", index+1)
		}
		from := strings.TrimSpace(parts[0])
		to := strings.TrimSpace(parts[1])
		if from == "" {
			return nil, fmt.Errorf("line %d: rule source cannot be empty", index+1)
		}

		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(from) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid rule source: %w", index+1, err)
		}
		rules = append(rules, correctionRule{from: from, to: to, re: re})
	}

	return rules, nil
}

// Validate applies correction rules until the text is stable, then scans
// for known medical vocabulary.
func (v *Validator) Validate(text string) (domain.TermValidation, error) {
	result := domain.TermValidation{Text: text}
	if strings.TrimSpace(text) == "" {
		return result, nil
	}

	corrected := text
	applied := map[string]domain.TermCorrection{}
	for i := 0; i < v.loopLimit; i++ {
		changed := false
		for _, rule := range v.rules {
			next := rule.re.ReplaceAllString(corrected, rule.to)
			if next != corrected {
				corrected = next
				changed = true
				applied[rule.from] = domain.TermCorrection{From: rule.from, To: rule.to}
			}
		}
		if !changed {
			break
		}
	}

	result.Text = corrected
	for _, correction := range sortedCorrections(applied) {
		result.Corrections = append(result.Corrections, correction)
	}

	seen := map[string]bool{}
	for _, class := range patternClasses {
		for _, match := range class.re.FindAllString(corrected, -1) {
			term := strings.TrimSpace(match)
			key := strings.ToUpper(term)
			if term == "" || seen[key] {
				continue
			}
			seen[key] = true
			result.TermsFound = append(result.TermsFound, term)
			if expansion, ok := abbreviationGlossary[key]; ok {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s = %s", term, expansion))
			}
		}
	}

	return result, nil
}

// RuleCount reports how many correction rules are loaded.
func (v *Validator) RuleCount() int {
	return len(v.rules)
}

func sortedCorrections(applied map[string]domain.TermCorrection) []domain.TermCorrection {
	if len(applied) == 0 {
		return nil
	}
	keys := make([]string, 0, len(applied))
	for key := range applied {
		keys = append(keys, key)
	}
	// Stable output keeps event payloads deterministic.
	sort.Strings(keys)
	out := make([]domain.TermCorrection, 0, len(keys))
	for _, key := range keys {
		out = append(out, applied[key])
	}
	return out
}
