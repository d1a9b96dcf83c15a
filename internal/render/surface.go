// Package render turns scenes into draw commands and paces redraws to the
// host's frame clock.
package render

// Surface is the canvas host that executes draw commands.
type Surface interface {
	Size() (width, height int)
	Draw(background string, commands []DrawCommand) error
}
