package vm

import "testing"

func TestChunkWriteAndLineRuns(t *testing.T) {
	var c Chunk
	c.Write(byte(OpNil), 1)
	c.Write(byte(OpNil), 1)
	c.Write(byte(OpPop), 2)
	c.Write(byte(OpPop), 2)
	c.Write(byte(OpReturn), 5)

	if len(c.Code) != 5 {
		t.Fatalf("code length = %d, want 5", len(c.Code))
	}
	// Consecutive bytes on the same line share one run.
	want := []LineRun{{0, 1}, {2, 2}, {4, 5}}
	if len(c.Lines) != len(want) {
		t.Fatalf("line runs = %v, want %v", c.Lines, want)
	}
	for i, run := range want {
		if c.Lines[i] != run {
			t.Errorf("run %d = %v, want %v", i, c.Lines[i], run)
		}
	}
}

func TestChunkLineAt(t *testing.T) {
	var c Chunk
	c.Write(byte(OpNil), 1)
	c.Write(byte(OpNil), 1)
	c.Write(byte(OpPop), 3)
	c.Write(byte(OpReturn), 7)

	cases := []struct {
		offset, want int
	}{
		{0, 1},
		{1, 1},
		{2, 3},
		{3, 7},
	}
	for _, tc := range cases {
		if got := c.LineAt(tc.offset); got != tc.want {
			t.Errorf("LineAt(%d) = %d, want %d", tc.offset, got, tc.want)
		}
	}
}

func TestChunkLinesNonDecreasing(t *testing.T) {
	var c Chunk
	for line := 1; line <= 10; line++ {
		c.Write(byte(OpNil), line)
		c.Write(byte(OpPop), line)
	}
	previous := 0
	for offset := 0; offset < len(c.Code); offset++ {
		line := c.LineAt(offset)
		if line < 1 {
			t.Fatalf("LineAt(%d) = %d, want >= 1", offset, line)
		}
		if line < previous {
			t.Fatalf("LineAt(%d) = %d decreased from %d", offset, line, previous)
		}
		previous = line
	}
}

func TestChunkLineAtEmpty(t *testing.T) {
	var c Chunk
	if got := c.LineAt(0); got != 0 {
		t.Errorf("LineAt on empty chunk = %d, want 0", got)
	}
}

func TestAddConstantCap(t *testing.T) {
	var c Chunk
	for i := 0; i < MaxConstants; i++ {
		if idx := c.AddConstant(FromNumber(float64(i))); idx != i {
			t.Fatalf("AddConstant #%d returned %d", i, idx)
		}
	}
	if idx := c.AddConstant(FromNumber(999)); idx != -1 {
		t.Fatalf("constant past the cap returned %d, want -1", idx)
	}
}
