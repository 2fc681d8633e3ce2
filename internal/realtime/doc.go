// Package realtime carries ephemeral canvas state between clients viewing
// the same project.
//
// Messages on this channel are best-effort and never enter the op log:
// they produce no inverse and are excluded from undo. Generator overlays
// report run progress; media messages carry live drag and create/delete
// feedback that is too frequent for durable history.
//
// The package has three parts:
//   - Message: the JSON wire format and its validation
//   - Applier: folds incoming messages into a canvas, idempotently
//   - Client and Hub: gorilla/websocket transport for the browser side
//     and the server side of a per-project room
package realtime
