package devices

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

const validDescriptor = `
name: dout-1
vendor: generic
address: 1001
input_bytes: 2
output_bytes: 2
dc_sync0: true
`

func TestParseDescriptor(t *testing.T) {
	d, err := ParseDescriptor([]byte(validDescriptor))
	if err != nil {
		t.Fatalf("ParseDescriptor() err=%v", err)
	}
	if d.Name != "dout-1" || d.Address != 1001 || d.OutputBytes != 2 {
		t.Fatalf("descriptor=%+v", d)
	}
}

func TestParseDescriptorRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing name":     "vendor: generic\naddress: 1\n",
		"missing address":  "name: x\nvendor: generic\n",
		"negative address": "name: x\nvendor: generic\naddress: -1\n",
		"unknown field":    "name: x\nvendor: generic\naddress: 1\ncolour: red\n",
		"not yaml":         "{{{{",
	}
	for name, doc := range cases {
		if _, err := ParseDescriptor([]byte(doc)); err == nil {
			t.Fatalf("ParseDescriptor accepted %s", name)
		}
	}
}

func TestLoadDescriptors(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b.yaml": "name: b\nvendor: generic\naddress: 2\n",
		"a.yaml": "name: a\nvendor: generic\naddress: 1\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	all, err := LoadDescriptors([]string{dir})
	if err != nil {
		t.Fatalf("LoadDescriptors() err=%v", err)
	}
	if len(all) != 2 || all[0].Name != "a" || all[1].Name != "b" {
		t.Fatalf("descriptors=%+v, want a then b", all)
	}
}

func TestMergeSync0Addresses(t *testing.T) {
	descs := []Descriptor{
		{Name: "a", Address: 1001, DCSync0: true},
		{Name: "b", Address: 1002},
		{Name: "c", Address: 1003, DCSync0: true},
		{Name: "d", Address: 1001, DCSync0: true},
	}

	got := MergeSync0Addresses([]uint32{1003}, descs)
	want := []uint32{1003, 1001}
	if len(got) != len(want) {
		t.Fatalf("addresses=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("addresses=%v, want %v", got, want)
		}
	}
}

func TestGenericLifecycle(t *testing.T) {
	g := NewGeneric(Descriptor{Name: "io", Address: 1, InputBytes: 2, OutputBytes: 2})

	if err := g.Update(); err == nil {
		t.Fatalf("Update before operational succeeded")
	}

	if err := g.Configure(); err != nil {
		t.Fatalf("Configure() err=%v", err)
	}
	if err := g.SetToOperational(); err != nil {
		t.Fatalf("SetToOperational() err=%v", err)
	}

	g.WriteOutputs([]byte{0xAB, 0xCD})
	if err := g.Update(); err != nil {
		t.Fatalf("Update() err=%v", err)
	}
	if got := g.ReadInputs(); !bytes.Equal(got, []byte{0xAB, 0xCD}) {
		t.Fatalf("inputs=%x, want loopback of outputs", got)
	}
	if g.Updates() != 1 {
		t.Fatalf("updates=%d, want 1", g.Updates())
	}
}

func TestGenericSafeOpParksOutputs(t *testing.T) {
	g := NewGeneric(Descriptor{Name: "io", Address: 1, InputBytes: 1, OutputBytes: 1})
	if err := g.Configure(); err != nil {
		t.Fatalf("Configure() err=%v", err)
	}
	if err := g.SetToOperational(); err != nil {
		t.Fatalf("SetToOperational() err=%v", err)
	}
	g.WriteOutputs([]byte{0xFF})

	if err := g.SetToSafeOperational(); err != nil {
		t.Fatalf("SetToSafeOperational() err=%v", err)
	}
	if err := g.SetToOperational(); err != nil {
		t.Fatalf("reactivate err=%v", err)
	}
	if err := g.Update(); err != nil {
		t.Fatalf("Update() err=%v", err)
	}
	if got := g.ReadInputs(); got[0] != 0 {
		t.Fatalf("inputs=%x after safe-op parking, want zeroed", got)
	}
}
