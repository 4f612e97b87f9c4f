// Package console models the 80x20 VGA text-mode console: a cell grid
// written one byte at a time by the print/putchar syscalls, with a
// scrolling cursor the way a real VGA text buffer advances.
package console

import "github.com/skyos/kernel/internal/log"

const (
	Columns = 80
	Rows    = 20

	// AttrWhiteOnBlack is the default cell attribute byte.
	AttrWhiteOnBlack byte = 0x0F
)

// Cell is one character position in the grid: a glyph plus its VGA
// attribute byte.
type Cell struct {
	Char byte
	Attr byte
}

// Console is the in-memory console grid. Writes advance the cursor left to
// right, top to bottom, and scroll the grid up one row when the cursor
// would pass the last row.
type Console struct {
	grid   [Rows][Columns]Cell
	col    int
	row    int
	attr   byte
	log    *log.Logger
	onByte func(b byte) // test/tty hook, invoked after each write
}

// New creates a blank console, every cell set to a space with the default
// attribute.
func New() *Console {
	c := &Console{attr: AttrWhiteOnBlack, log: log.DefaultLogger()}
	c.clear()

	return c
}

func (c *Console) clear() {
	for r := range c.grid {
		for col := range c.grid[r] {
			c.grid[r][col] = Cell{Char: ' ', Attr: c.attr}
		}
	}
}

// WriteByte writes one byte to the console, satisfying io.ByteWriter (and
// the syscall package's Console interface). '\n' moves to the start of the
// next row; any other byte is placed at the cursor and advances it.
func (c *Console) WriteByte(b byte) error {
	if b == '\n' {
		c.newline()
	} else {
		c.grid[c.row][c.col] = Cell{Char: b, Attr: c.attr}
		c.advance()
	}

	if c.onByte != nil {
		c.onByte(b)
	}

	return nil
}

func (c *Console) advance() {
	c.col++
	if c.col >= Columns {
		c.newline()
	}
}

func (c *Console) newline() {
	c.col = 0
	c.row++

	if c.row >= Rows {
		c.scroll()
		c.row = Rows - 1
	}
}

func (c *Console) scroll() {
	for r := 1; r < Rows; r++ {
		c.grid[r-1] = c.grid[r]
	}

	for col := range c.grid[Rows-1] {
		c.grid[Rows-1][col] = Cell{Char: ' ', Attr: c.attr}
	}
}

// Cell returns the glyph at (row, col), for tests and renderers.
func (c *Console) Cell(row, col int) Cell {
	return c.grid[row][col]
}

// Row returns the glyphs of one row as a string, trailing spaces included.
func (c *Console) Row(row int) string {
	buf := make([]byte, Columns)
	for col := range c.grid[row] {
		buf[col] = c.grid[row][col].Char
	}

	return string(buf)
}

// OnByte installs a callback invoked after every WriteByte, the hook a
// terminal renderer uses to mirror console output live.
func (c *Console) OnByte(fn func(b byte)) {
	c.onByte = fn
}
