package store

import "testing"

func TestPaginate(t *testing.T) {
	tests := []struct {
		name       string
		total      int
		page       int
		limit      int
		wantPages  int
		wantNext   bool
		wantPrev   bool
	}{
		{"empty", 0, 1, 50, 0, false, false},
		{"single page", 10, 1, 50, 1, false, false},
		{"first of many", 120, 1, 50, 3, true, false},
		{"middle page", 120, 2, 50, 3, true, true},
		{"last page", 120, 3, 50, 3, false, true},
		{"exact fit", 100, 2, 50, 2, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Paginate(tt.total, tt.page, tt.limit)
			if p.TotalPages != tt.wantPages {
				t.Errorf("TotalPages: expected %d, got %d", tt.wantPages, p.TotalPages)
			}
			if p.TotalMessages != tt.total {
				t.Errorf("TotalMessages: expected %d, got %d", tt.total, p.TotalMessages)
			}
			if p.CurrentPage != tt.page {
				t.Errorf("CurrentPage: expected %d, got %d", tt.page, p.CurrentPage)
			}
			if p.HasNext != tt.wantNext {
				t.Errorf("HasNext: expected %v, got %v", tt.wantNext, p.HasNext)
			}
			if p.HasPrev != tt.wantPrev {
				t.Errorf("HasPrev: expected %v, got %v", tt.wantPrev, p.HasPrev)
			}
		})
	}
}
