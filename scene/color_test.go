package scene

import (
	"errors"
	"testing"

	"github.com/benoitkugler/okcanvas/internal/domain"
)

func TestParseColor(t *testing.T) {
	for _, test := range []struct {
		in   string
		want string
	}{
		{"#FF0000", "#ff0000"},
		{"#f00", "#ff0000"},
		{"#f008", "#ff000088"},
		{"#11223344", "#11223344"},
		{"#112233ff", "#112233"},
		{"red", "#ff0000"},
		{" DarkSlateBlue ", "#483d8b"},
		{"rgb(0, 128, 255)", "#0080ff"},
		{"rgba(255,0,0,0.5)", "#ff000080"},
		{"rgb(100%, 0%, 50%)", "#ff0080"},
		{"transparent", "#00000000"},
	} {
		c, err := ParseColor(test.in)
		if err != nil {
			t.Fatalf("ParseColor(%q): %s", test.in, err)
		}
		if c.String() != test.want {
			t.Errorf("ParseColor(%q) = %s, want %s", test.in, c, test.want)
		}
	}
}

func TestParseColorInvalid(t *testing.T) {
	for _, in := range []string{"", "#12", "#12345", "#gggggg", "notacolor", "rgb(1,2)", "rgb(a,b,c)"} {
		_, err := ParseColor(in)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("ParseColor(%q): expected invalid argument, got %v", in, err)
		}
	}
}

func TestColorOpacity(t *testing.T) {
	if Black.Opacity() != 1 {
		t.Fatal("black should be opaque")
	}
	c := Color{A: 0}
	if c.Opacity() != 0 {
		t.Fatal("expected transparent")
	}
	if n := (Color{1, 2, 3, 4}).NRGBA(); n.R != 1 || n.A != 4 {
		t.Fatalf("unexpected %v", n)
	}
}
