package catalogs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseSoundID(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"entity.cat.ambient", "minecraft:entity.cat.ambient", true},
		{"minecraft:block.note_block.harp", "minecraft:block.note_block.harp", true},
		{"mymod:music/track-1", "mymod:music/track-1", true},
		{":ui.click", "minecraft:ui.click", true},
		{"", "", false},
		{"minecraft:", "", false},
		{"Minecraft:foo", "", false},
		{"my/mod:foo", "", false},
		{"minecraft:foo bar", "", false},
		{"minecraft:foo:bar", "", false},
	}
	for _, c := range cases {
		id, err := ParseSoundID(c.in)
		if c.ok {
			if err != nil {
				t.Fatalf("ParseSoundID(%q): %v", c.in, err)
			}
			if id.String() != c.want {
				t.Fatalf("ParseSoundID(%q)=%s want %s", c.in, id, c.want)
			}
			continue
		}
		if err == nil {
			t.Fatalf("ParseSoundID(%q): expected error, got %s", c.in, id)
		}
	}
}

func TestDefaults_ResolveInstrument(t *testing.T) {
	c := Defaults()
	if len(c.Sounds.Names) != len(BaseInstruments) {
		t.Fatalf("instrument count=%d want %d", len(c.Sounds.Names), len(BaseInstruments))
	}
	id, err := c.ResolveInstrument("HaRp")
	if err != nil {
		t.Fatalf("resolve harp: %v", err)
	}
	if id.String() != "minecraft:block.note_block.harp" {
		t.Fatalf("harp=%s", id)
	}
	if _, err := c.ResolveInstrument("kazoo"); !errors.Is(err, ErrUnknownSound) {
		t.Fatalf("kazoo: expected ErrUnknownSound, got %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	c, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Sounds.Digest != Defaults().Sounds.Digest {
		t.Fatalf("digest mismatch for defaults")
	}
}

func TestLoad_ExtraInstrumentsAndAllowList(t *testing.T) {
	dir := t.TempDir()
	raw := `{
	  "instruments": {"Kazoo": "mymod:note.kazoo"},
	  "allowed": ["entity.cat.ambient", "mymod:note.kazoo"]
	}`
	if err := os.WriteFile(filepath.Join(dir, "sounds.json"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	id, err := c.ResolveInstrument("kazoo")
	if err != nil || id.String() != "mymod:note.kazoo" {
		t.Fatalf("kazoo=%s err=%v", id, err)
	}
	if _, err := c.ResolveSound("entity.cat.ambient"); err != nil {
		t.Fatalf("allowed sound rejected: %v", err)
	}
	if _, err := c.ResolveSound("entity.dog.bark"); !errors.Is(err, ErrUnknownSound) {
		t.Fatalf("expected ErrUnknownSound, got %v", err)
	}
	if c.Sounds.Digest == Defaults().Sounds.Digest {
		t.Fatalf("expected digest to change with extra instruments")
	}
}

func TestLoad_BadInstrumentSound(t *testing.T) {
	dir := t.TempDir()
	raw := `{"instruments": {"bad": "Not Valid"}}`
	if err := os.WriteFile(filepath.Join(dir, "sounds.json"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error")
	}
}

func TestVec3DistSq(t *testing.T) {
	a := Vec3{X: 1, Y: 2, Z: 3}
	b := Vec3{X: 4, Y: 6, Z: 3}
	if got := a.DistSq(b); got != 25 {
		t.Fatalf("DistSq=%v want 25", got)
	}
}

func TestLoad_RepoConfig(t *testing.T) {
	c, err := Load("../../../configs")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	id, err := c.ResolveInstrument("Meow")
	if err != nil || id.String() != "minecraft:entity.cat.ambient" {
		t.Fatalf("meow=%v err=%v", id, err)
	}
	if _, err := c.ResolveInstrument("harp"); err != nil {
		t.Fatalf("base instrument lost: %v", err)
	}
	if c.Sounds.Digest == Defaults().Sounds.Digest {
		t.Fatalf("digest should change with extra instruments")
	}
}
