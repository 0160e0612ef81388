package models

// GlobalList is a user-owned ordered list of strings, referenced from any
// of that user's sequences by name. Names are unique per owner.
type GlobalList struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Items are always loaded eagerly, ordered by their order column.
	Items []*GlobalListItem `json:"items"`
}

// GlobalListItem is one entry of a global list.
type GlobalListItem struct {
	ID           int64  `json:"id"`
	GlobalListID int64  `json:"global_list_id"`
	Value        string `json:"value"`
	Order        int    `json:"order"`
}

// Values returns the item values in list order.
func (l *GlobalList) Values() []string {
	out := make([]string, len(l.Items))
	for i, item := range l.Items {
		out[i] = item.Value
	}
	return out
}
