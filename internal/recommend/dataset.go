package recommend

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ErrEmptyDataset is returned when a source yields no interactions.
var ErrEmptyDataset = errors.New("dataset has no interactions")

// Interaction is one user-item event with an implicit-feedback weight.
type Interaction struct {
	User   string  `json:"user"`
	Item   string  `json:"item"`
	Weight float64 `json:"weight"`
}

// Dataset is an indexed user-item matrix. It is immutable once built.
type Dataset struct {
	users     []string
	items     []string
	userIndex map[string]int
	itemIndex map[string]int
	rows      []map[int]float64
	nnz       int
}

// NewDataset indexes interactions. Duplicate pairs keep the highest weight.
func NewDataset(interactions []Interaction) (*Dataset, error) {
	if len(interactions) == 0 {
		return nil, ErrEmptyDataset
	}

	userSet := make(map[string]struct{})
	itemSet := make(map[string]struct{})
	for _, in := range interactions {
		userSet[in.User] = struct{}{}
		itemSet[in.Item] = struct{}{}
	}

	d := &Dataset{
		users: sortedKeys(userSet),
		items: sortedKeys(itemSet),
	}
	d.userIndex = indexOf(d.users)
	d.itemIndex = indexOf(d.items)
	d.rows = make([]map[int]float64, len(d.users))
	for u := range d.rows {
		d.rows[u] = make(map[int]float64)
	}

	for _, in := range interactions {
		u, i := d.userIndex[in.User], d.itemIndex[in.Item]
		if w, ok := d.rows[u][i]; !ok || in.Weight > w {
			if !ok {
				d.nnz++
			}
			d.rows[u][i] = in.Weight
		}
	}

	return d, nil
}

// withRows returns a dataset sharing d's vocabulary but holding rows.
func (d *Dataset) withRows(rows []map[int]float64) *Dataset {
	nnz := 0
	for _, r := range rows {
		nnz += len(r)
	}
	return &Dataset{
		users:     d.users,
		items:     d.items,
		userIndex: d.userIndex,
		itemIndex: d.itemIndex,
		rows:      rows,
		nnz:       nnz,
	}
}

func (d *Dataset) NumUsers() int        { return len(d.users) }
func (d *Dataset) NumItems() int        { return len(d.items) }
func (d *Dataset) NumInteractions() int { return d.nnz }

// User returns the external identifier of user index u.
func (d *Dataset) User(u int) string { return d.users[u] }

// Item returns the external identifier of item index i.
func (d *Dataset) Item(i int) string { return d.items[i] }

// ItemIndex resolves an external item identifier.
func (d *Dataset) ItemIndex(item string) (int, bool) {
	i, ok := d.itemIndex[item]
	return i, ok
}

// UserItems returns the weighted items of user u. The map must not be
// modified.
func (d *Dataset) UserItems(u int) map[int]float64 {
	return d.rows[u]
}

// SortedUserItems returns the item indices of user u in ascending order.
func (d *Dataset) SortedUserItems(u int) []int {
	items := make([]int, 0, len(d.rows[u]))
	for i := range d.rows[u] {
		items = append(items, i)
	}
	sort.Ints(items)
	return items
}

// LoadCSV reads user,item[,weight] rows. A leading header row whose first
// column is "user" is skipped. Missing weights default to 1.
func LoadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open interactions: %w", err)
	}
	defer f.Close()

	interactions, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return NewDataset(interactions)
}

// ReadCSV parses interactions from r.
func ReadCSV(r io.Reader) ([]Interaction, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	interactions := make([]Interaction, 0)
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "user") {
			continue
		}
		if len(record) < 2 || len(record) > 3 {
			return nil, fmt.Errorf("line %d: expected 2 or 3 fields, got %d", line, len(record))
		}

		in := Interaction{
			User:   strings.TrimSpace(record[0]),
			Item:   strings.TrimSpace(record[1]),
			Weight: 1,
		}
		if in.User == "" || in.Item == "" {
			return nil, fmt.Errorf("line %d: empty user or item", line)
		}
		if len(record) == 3 {
			w, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid weight: %w", line, err)
			}
			if w <= 0 {
				return nil, fmt.Errorf("line %d: weight must be positive", line)
			}
			in.Weight = w
		}
		interactions = append(interactions, in)
	}

	return interactions, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func indexOf(values []string) map[string]int {
	index := make(map[string]int, len(values))
	for i, v := range values {
		index[v] = i
	}
	return index
}
