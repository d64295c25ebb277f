package types

import (
	"encoding/json"
	"testing"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{in: "artifact", want: KindArtifact},
		{in: " OS_Account ", want: KindOSAccount},
		{in: "email", want: KindEmail},
		{in: "", wantErr: true},
		{in: "registry", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q): err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChangeEvent_KeyIgnoresObjectAndPath(t *testing.T) {
	a := ChangeEvent{Kind: KindFile, TypeID: 3, DataSourceID: 9, ObjectID: 100, Path: "/a"}
	b := ChangeEvent{Kind: KindFile, TypeID: 3, DataSourceID: 9, ObjectID: 200, Path: "/b"}
	if a.Key() != b.Key() {
		t.Errorf("keys differ: %v vs %v", a.Key(), b.Key())
	}
	if got, want := a.Key().String(), "file/3@9"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestChangeEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ev      ChangeEvent
		wantErr bool
	}{
		{"ok", ChangeEvent{Kind: KindTag, TypeID: 1, DataSourceID: 2}, false},
		{"empty kind", ChangeEvent{TypeID: 1}, true},
		{"unknown kind", ChangeEvent{Kind: "registry"}, true},
		{"negative id", ChangeEvent{Kind: KindTag, DataSourceID: -1}, true},
	}
	for _, tt := range tests {
		if err := tt.ev.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestTreeEvent_JSON(t *testing.T) {
	key := DAOEventKey{Kind: KindArtifact, TypeID: 7, DataSourceID: 1}
	b, err := json.Marshal(SettledTreeEvent(key))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"key":{"kind":"artifact","type_id":7,"data_source_id":1},"count":{"state":"unspecified"},"refresh_required":true}`
	if string(b) != want {
		t.Errorf("got  %s\nwant %s", b, want)
	}

	p := ProvisionalTreeEvent(key)
	if p.RefreshRequired || p.Count != Indeterminate {
		t.Errorf("provisional event = %+v", p)
	}
}
