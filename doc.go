// Package panel keeps process-side components in sync with their rendered
// views, in both directions, across any number of concurrently open
// sessions.
//
// A component is an instance of a Class: a set of typed properties, an
// annotated HTML template and the methods the template may call. Changing
// a property pushes the smallest possible update to every view the
// component is rendered in; a view changing a property, or firing an
// event, reaches the component and, through it, every other view.
//
// # Classes
//
// Classes are defined once, usually at package level. Build compiles the
// template against the declared properties and methods, so every binding
// error surfaces before any instance exists:
//
//	var Bar = panel.NewClass("bar").
//	    Int("w", 3).
//	    Template(`<div id="d" style="width: ${w}px"></div>`).
//	    MustBuild()
//
// Templates bind attributes (${w}), insert child components or text as
// element content (${children}), attach methods to events
// (onclick=${_click}) and expand loops over list and dict properties
// ({% for option in options %}). See lib/markup for the full syntax.
//
// # Sessions and Roots
//
// A Registry owns sessions, one per root. A root is one rendered view tree,
// typically one browser page. Sessions render components through a
// Toolkit; deferred sessions also mirror every change over a Transport and
// handle view events on their own goroutine:
//
//	reg := panel.NewRegistry()
//	s, err := reg.NewSession("root-1", htmlview.New())
//	node, err := s.Render(bar)
//	bar.Set("w", 5) // the view receives {d, style, "width: 5px"}
//
// Changes made together, with Component.Update or inside Session.Hold,
// reach each view node as one message. A change that came from a view is
// not sent back to it.
//
// # Links
//
// NewLink keeps properties of two components in step, optionally in both
// directions and through a transform. Entries with Code are run by the
// views instead:
//
//	l, err := panel.NewLink(slider, label, panel.LinkOptions{
//	    Entries: []panel.LinkEntry{{Source: "value", Target: "text"}},
//	})
//	defer l.Dispose()
//
// # Errors
//
// Template, binding and link errors are returned when the class, binding
// or link is created. Errors while handling view events are never returned
// to the view; they go to Registry.OnError as *DispatchError.
//
// # Testing
//
// NewTestSession opens a root over the in-memory toolkit of lib/htmlview,
// which records every update it receives and fires events as a browser
// would.
package panel
