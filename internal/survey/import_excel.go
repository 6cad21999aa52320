package survey

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	SheetQuestions = "questions"
	SheetConflicts = "conflicts"
	SheetP1        = "p1"
	SheetP2        = "p2"
	SheetP3        = "p3"
	SheetP4Q14     = "p4-14"
	SheetP4Q15     = "p4-15"
	SheetScale     = "грейд"
	SheetVariants  = "q11-12"
	SheetHay       = "dict_hay"
	SheetStaff     = "shtat"

	hierarchyPathSeparator = " -> "
)

type ImportRowError struct {
	Sheet string `json:"sheet"`
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportReport struct {
	Sheets  map[string]int   `json:"sheets"`
	Missing []string         `json:"missing_sheets"`
	Errors  []ImportRowError `json:"errors"`
}

func (r *ImportReport) fail(sheet string, row int, err error) {
	r.Errors = append(r.Errors, ImportRowError{Sheet: sheet, Row: row, Error: err.Error()})
}

// ImportWorkbook reads every reference table from one workbook. Bad rows are skipped
// and listed in the report; a missing questions sheet is an error.
func ImportWorkbook(r io.Reader) (*Catalog, *ImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open excel: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.New("excel sheet is empty")
	}
	report := &ImportReport{Sheets: map[string]int{}, Errors: make([]ImportRowError, 0)}
	rowsOf := func(name string) [][]string {
		for _, s := range sheets {
			if strings.EqualFold(strings.TrimSpace(s), name) {
				rows, err := f.GetRows(s)
				if err != nil {
					report.fail(name, 0, err)
					return nil
				}
				return rows
			}
		}
		report.Missing = append(report.Missing, name)
		return nil
	}

	questionRows := rowsOf(SheetQuestions)
	if questionRows == nil {
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, nil, fmt.Errorf("read rows: %w", err)
		}
		questionRows = rows
	}
	questions, err := importQuestions(questionRows, report)
	if err != nil {
		return nil, nil, err
	}

	c := &Catalog{
		QuestionList: questions,
		Tables:       &GradeTables{},
	}
	if rows := rowsOf(SheetConflicts); rows != nil {
		c.Rules = importConflicts(rows, report)
	}
	c.Tables.P1 = importP1(rowsOf(SheetP1), report)
	c.Tables.P2 = importP2(rowsOf(SheetP2), report)
	c.Tables.P3 = importP3(rowsOf(SheetP3), report)
	c.Tables.P4Q14 = importP4(SheetP4Q14, rowsOf(SheetP4Q14), report)
	c.Tables.P4Q15 = importP4(SheetP4Q15, rowsOf(SheetP4Q15), report)
	c.Tables.Scale = importScale(rowsOf(SheetScale), report)
	c.VariantRows = importVariants(rowsOf(SheetVariants), report)
	c.Hay = importHay(rowsOf(SheetHay), report)
	c.Hierarchy = BuildHierarchy(rowsOf(SheetStaff), report)

	report.Sheets[SheetQuestions] = len(c.QuestionList)
	report.Sheets[SheetConflicts] = len(c.Rules)
	report.Sheets[SheetP1] = len(c.Tables.P1)
	report.Sheets[SheetP2] = len(c.Tables.P2)
	report.Sheets[SheetP3] = len(c.Tables.P3)
	report.Sheets[SheetP4Q14] = len(c.Tables.P4Q14)
	report.Sheets[SheetP4Q15] = len(c.Tables.P4Q15)
	report.Sheets[SheetScale] = len(c.Tables.Scale)
	report.Sheets[SheetVariants] = len(c.VariantRows)
	report.Sheets[SheetHay] = len(c.Hay)
	report.Sheets[SheetStaff] = len(c.Hierarchy)

	return c.Index(), report, nil
}

func importQuestions(rows [][]string, report *ImportReport) ([]Question, error) {
	if len(rows) < 2 {
		return nil, errors.New("no question rows found")
	}
	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"id", "вопрос"} {
		if _, ok := header[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	out := make([]Question, 0, len(rows)-1)
	seen := map[int]bool{}
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if get("id") == "" {
			continue
		}
		id, err := parseInt(get("id"))
		if err != nil {
			report.fail(SheetQuestions, i+1, err)
			continue
		}
		if seen[id] {
			report.fail(SheetQuestions, i+1, fmt.Errorf("duplicate question id %d", id))
			continue
		}
		seen[id] = true
		out = append(out, Question{
			ID:                      id,
			Text:                    get("вопрос"),
			AnswerOptions:           get("варианты_ответов"),
			VerificationInstruction: get("инструкция_проверки"),
			Classifier:              get("классификатор"),
			ShowConditions:          get("условия_показа"),
			Section:                 get("раздел"),
		})
	}
	return out, nil
}

func importConflicts(rows [][]string, report *ImportReport) []ConflictRule {
	out := make([]ConflictRule, 0)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if cell(row, 0) == "" {
			continue
		}
		pairs := make([]OptionalPair, 0, maxRulePairs)
		for p := 0; p < maxRulePairs; p++ {
			base := p * 4
			qRaw, aRaw := cell(row, base), cell(row, base+2)
			if qRaw == "" || aRaw == "" {
				pairs = append(pairs, OptionalPair{})
				continue
			}
			q, qErr := parseInt(qRaw)
			a, aErr := parseInt(aRaw)
			if qErr != nil || aErr != nil {
				pairs = append(pairs, OptionalPair{})
				continue
			}
			pairs = append(pairs, OptionalPair{QuestionID: &q, AnswerID: &a, QuestionText: cell(row, base+1), AnswerText: cell(row, base+3)})
		}
		if !pairs[0].defined() || !pairs[1].defined() {
			report.fail(SheetConflicts, i+1, fmt.Errorf("%w: mandatory pair missing", ErrMalformedRule))
			continue
		}
		rule, err := NewConflictRule(int64(len(out)+1), mandatory(pairs[0]), mandatory(pairs[1]), pairs[2:]...)
		if err != nil {
			report.fail(SheetConflicts, i+1, err)
			continue
		}
		out = append(out, rule)
	}
	return out
}

func mandatory(p OptionalPair) RulePair {
	return RulePair{QuestionID: *p.QuestionID, AnswerID: *p.AnswerID, QuestionText: p.QuestionText, AnswerText: p.AnswerText}
}

func importP1(rows [][]string, report *ImportReport) []P1Row {
	out := make([]P1Row, 0)
	eachIntRow(SheetP1, rows, 4, report, func(v []int) {
		out = append(out, P1Row{Q8: v[0], Q9: v[1], Q10: v[2], Value: v[3]})
	})
	return out
}

func importP2(rows [][]string, report *ImportReport) []P2Row {
	out := make([]P2Row, 0)
	eachIntRow(SheetP2, rows, 3, report, func(v []int) {
		out = append(out, P2Row{Q11: v[0], Q12: v[1], Value: v[2]})
	})
	return out
}

func importP3(rows [][]string, report *ImportReport) []P3Row {
	out := make([]P3Row, 0)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if cell(row, 0) == "" {
			continue
		}
		p1, err := strconv.ParseFloat(strings.ReplaceAll(cell(row, 0), ",", "."), 64)
		if err != nil {
			report.fail(SheetP3, i+1, err)
			continue
		}
		p2, err2 := parseInt(cell(row, 1))
		p3, err3 := parseInt(cell(row, 2))
		if err := errors.Join(err2, err3); err != nil {
			report.fail(SheetP3, i+1, err)
			continue
		}
		out = append(out, P3Row{P1: p1, P2: p2, Value: p3})
	}
	return out
}

func importP4(sheet string, rows [][]string, report *ImportReport) []P4Row {
	out := make([]P4Row, 0)
	eachIntRow(sheet, rows, 4, report, func(v []int) {
		out = append(out, P4Row{Q16: v[0], Q13: v[1], Alternate: v[2], Value: v[3]})
	})
	return out
}

func importScale(rows [][]string, report *ImportReport) []ScaleRow {
	out := make([]ScaleRow, 0)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if cell(row, 0) == "" {
			continue
		}
		v, err := parseInts(row, 3)
		if err != nil {
			report.fail(SheetScale, i+1, err)
			continue
		}
		out = append(out, ScaleRow{Low: v[0], Mid: v[1], High: v[2], Grade: cell(row, 3)})
	}
	return out
}

func importVariants(rows [][]string, report *ImportReport) []VariantRow {
	out := make([]VariantRow, 0)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if cell(row, 0) == "" {
			continue
		}
		p1, err := parseInt(cell(row, 0))
		if err != nil {
			report.fail(SheetVariants, i+1, err)
			continue
		}
		q11Text := cell(row, 1)
		q11, err := VariantAnswerValue(q11Text)
		if err != nil {
			report.fail(SheetVariants, i+1, err)
			continue
		}
		q12Text, q12 := "", 0
		for col := 2; col < len(row); col++ {
			if v, err := VariantAnswerValue(cell(row, col)); err == nil {
				q12Text, q12 = cell(row, col), v
				break
			}
		}
		if q12Text == "" {
			report.fail(SheetVariants, i+1, fmt.Errorf("no q12 variant for p1=%d", p1))
			continue
		}
		out = append(out, VariantRow{P1: p1, Q11Text: q11Text, Q11Answer: q11, Q12Text: q12Text, Q12Answer: q12})
	}
	return out
}

// VariantAnswerValue extracts the level from a variant label such as "3. Типовые задачи".
func VariantAnswerValue(text string) (int, error) {
	text = strings.TrimSpace(text)
	for i := 1; i <= 8; i++ {
		if strings.HasPrefix(text, strconv.Itoa(i)+".") {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown variant format: %q", text)
}

// importHay keeps the last definition for a repeated (question, answer) pair.
func importHay(rows [][]string, report *ImportReport) []HayDefinition {
	out := make([]HayDefinition, 0)
	at := map[[2]int]int{}
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if cell(row, 0) == "" {
			continue
		}
		v, err := parseInts(row, 2)
		if err != nil {
			report.fail(SheetHay, i+1, err)
			continue
		}
		def := HayDefinition{QuestionNumber: v[0], AnswerNumber: v[1], Definition: cell(row, 2)}
		if idx, ok := at[[2]int{v[0], v[1]}]; ok {
			out[idx] = def
			continue
		}
		at[[2]int{v[0], v[1]}] = len(out)
		out = append(out, def)
	}
	return out
}

// BuildHierarchy turns staff rows (company, level columns, evaluated role) into a tree.
// Items are keyed by (role, parent), so equal names under different parents stay apart.
func BuildHierarchy(rows [][]string, report *ImportReport) []HierarchyItem {
	if len(rows) < 2 {
		return make([]HierarchyItem, 0)
	}
	companyCol, roleCol := -1, -1
	levelCols := make([]int, 0)
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		switch {
		case h == "Компания":
			companyCol = i
		case h == "Оцениваемая роль":
			roleCol = i
		case strings.HasPrefix(h, "Уровень"):
			levelCols = append(levelCols, i)
		}
	}
	if companyCol < 0 {
		if report != nil {
			report.fail(SheetStaff, 1, errors.New("missing required column: Компания"))
		}
		return make([]HierarchyItem, 0)
	}

	type nodeKey struct {
		role   string
		parent int
	}
	ids := map[nodeKey]int{}
	items := make([]HierarchyItem, 0)
	byID := map[int]HierarchyItem{}
	getOrCreate := func(role string, parent int) int {
		k := nodeKey{role: role, parent: parent}
		if id, ok := ids[k]; ok {
			return id
		}
		id := len(items) + 1
		ids[k] = id
		path := role
		if p, ok := byID[parent]; ok {
			path = p.FullPath + hierarchyPathSeparator + role
		}
		it := HierarchyItem{ID: id, Role: role, ParentID: parent, FullPath: path}
		items = append(items, it)
		byID[id] = it
		return id
	}

	for i := 1; i < len(rows); i++ {
		row := rows[i]
		company := cell(row, companyCol)
		if company == "" {
			continue
		}
		parent := getOrCreate(company, 0)
		for _, col := range levelCols {
			v := cell(row, col)
			if v == "" {
				break
			}
			parent = getOrCreate(v, parent)
		}
		if roleCol >= 0 {
			if role := cell(row, roleCol); role != "" {
				getOrCreate(role, parent)
			}
		}
	}
	return items
}

func eachIntRow(sheet string, rows [][]string, width int, report *ImportReport, fn func([]int)) {
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if cell(row, 0) == "" {
			continue
		}
		v, err := parseInts(row, width)
		if err != nil {
			report.fail(sheet, i+1, err)
			continue
		}
		fn(v)
	}
}

func parseInts(row []string, width int) ([]int, error) {
	out := make([]int, width)
	for i := 0; i < width; i++ {
		n, err := parseInt(cell(row, i))
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i+1, err)
		}
		out[i] = n
	}
	return out, nil
}

// parseInt accepts spreadsheet renderings such as "3" and "3.0".
func parseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int(f), nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
