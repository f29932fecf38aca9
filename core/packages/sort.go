package packages

import (
	"encoding/json"
	"sort"
)

// SortPackages orders the "packages" array of a list response by name,
// keeping every other field of the response and of each package intact.
func SortPackages(body []byte) ([]byte, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, err
	}
	raw, ok := top["packages"]
	if !ok {
		return body, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	type keyed struct {
		name string
		raw  json.RawMessage
	}
	keyedItems := make([]keyed, len(items))
	for i, item := range items {
		var probe struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(item, &probe)
		keyedItems[i] = keyed{name: probe.Name, raw: item}
	}
	sort.SliceStable(keyedItems, func(i, j int) bool {
		return keyedItems[i].name < keyedItems[j].name
	})
	for i := range keyedItems {
		items[i] = keyedItems[i].raw
	}
	sorted, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	top["packages"] = sorted
	return json.Marshal(top)
}
