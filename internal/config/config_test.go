package config

import (
	"reflect"
	"testing"
)

func TestParseEscalationDays(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []int
		wantErr bool
	}{
		{
			name:  "default schedule",
			input: "1,3,7,14,30",
			want:  []int{1, 3, 7, 14, 30},
		},
		{
			name:  "tolerates whitespace",
			input: " 2 , 5 ,10 ",
			want:  []int{2, 5, 10},
		},
		{
			name:  "single entry",
			input: "7",
			want:  []int{7},
		},
		{
			name:    "rejects empty schedule",
			input:   "",
			wantErr: true,
		},
		{
			name:    "rejects non-numeric entries",
			input:   "1,three,7",
			wantErr: true,
		},
		{
			name:    "rejects zero days",
			input:   "1,0,7",
			wantErr: true,
		},
		{
			name:    "rejects negative days",
			input:   "1,-3",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEscalationDays(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
