package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strings"

	perr "guardian/internal/errors"
	"guardian/internal/logger"
	"guardian/redact"
)

// Причины пропуска кандидата в PDF-режиме
const (
	SkipNotAccepted        = "not_accepted"
	SkipMissingCoordinates = "missing_coordinates"
	SkipPageOutOfRange     = "page_out_of_range"
	SkipAlreadyApplied     = "already_applied"
)

// AppliedRedaction применённая область
type AppliedRedaction struct {
	ID   string `json:"id"`
	Page int    `json:"page"`
	Kind string `json:"kind"` // redact | box
	Box  Box    `json:"box"`
}

// PDFReport итог применения редакций к документу
type PDFReport struct {
	Applied []AppliedRedaction `json:"applied"`
	Skipped []redact.Skipped   `json:"skipped"`
	Pages   []int              `json:"pages"`
}

type pageMark struct {
	index int
	cand  redact.Candidate
	box   Box
	kind  string
}

// ApplyPDF применяет принятые кандидаты к документу. Лица обводятся рамкой,
// всё остальное закрашивается и удаляется из слоя страницы. Страница, чей
// набор редакций уже был применён, повторно не обрабатывается.
func ApplyPDF(doc Document, candidates []redact.Candidate) (PDFReport, error) {
	log := logger.Named("pdf-redactor")
	report := PDFReport{Applied: []AppliedRedaction{}, Skipped: []redact.Skipped{}, Pages: []int{}}

	byPage := map[int][]pageMark{}
	for i, c := range candidates {
		switch {
		case !c.Accepted:
			report.Skipped = append(report.Skipped, redact.Skipped{Index: i, ID: c.ID, Reason: SkipNotAccepted})
			continue
		case c.Coordinates == nil:
			report.Skipped = append(report.Skipped, redact.Skipped{Index: i, ID: c.ID, Reason: SkipMissingCoordinates})
			continue
		case c.Coordinates.Page < 1 || c.Coordinates.Page > doc.PageCount():
			report.Skipped = append(report.Skipped, redact.Skipped{
				Index: i, ID: c.ID, Reason: SkipPageOutOfRange,
				Detail: fmt.Sprintf("page %d of %d", c.Coordinates.Page, doc.PageCount()),
			})
			continue
		}

		kind := "redact"
		if c.Category == redact.CategoryFaces {
			kind = "box"
		}
		co := c.Coordinates
		byPage[co.Page] = append(byPage[co.Page], pageMark{
			index: i, cand: c, kind: kind,
			box: Box{X: co.X, Y: co.Y, Width: co.Width, Height: co.Height},
		})
	}

	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	for _, n := range pages {
		marks := byPage[n]
		fp := fingerprint(marks)
		if slices.Contains(doc.AppliedFingerprints(n), fp) {
			for _, m := range marks {
				report.Skipped = append(report.Skipped, redact.Skipped{Index: m.index, ID: m.cand.ID, Reason: SkipAlreadyApplied})
			}
			log.Info().Int("page", n).Msg("redaction set already applied, skipping page")
			continue
		}

		page, err := doc.Page(n)
		if err != nil {
			return report, perr.IOf(err, "load page %d", n)
		}
		for _, m := range marks {
			if m.kind == "box" {
				err = page.DrawBox(m.box)
			} else {
				err = page.AddRedaction(m.box)
			}
			if err != nil {
				return report, perr.IOf(err, "mark page %d", n)
			}
			report.Applied = append(report.Applied, AppliedRedaction{ID: m.cand.ID, Page: n, Kind: m.kind, Box: m.box})
		}
		if err := page.ApplyRedactions(); err != nil {
			return report, perr.IOf(err, "apply redactions on page %d", n)
		}
		doc.RecordFingerprint(n, fp)
		report.Pages = append(report.Pages, n)
		log.Info().Int("page", n).Int("marks", len(marks)).Msg("page redacted")
	}

	return report, nil
}

// fingerprint устойчивый хэш набора областей страницы, не зависит от порядка
func fingerprint(marks []pageMark) string {
	parts := make([]string, len(marks))
	for i, m := range marks {
		parts[i] = fmt.Sprintf("%s:%.2f,%.2f,%.2f,%.2f", m.kind, m.box.X, m.box.Y, m.box.Width, m.box.Height)
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, ";")))
	return hex.EncodeToString(sum[:16])
}
