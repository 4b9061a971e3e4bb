// Package air reads AIR scripts into instruction trees.
//
// The grammar is a small s-expression language:
//
//	(seq A B) (par A B) (xor A B)
//	(match v1 v2 A) (mismatch v1 v2 A)
//	(fold iterable i A [last]) (next i)
//	(new var A)
//	(ap value dst) (ap (key value) %map)
//	(call peer (service function) [args...] [output])
//	(canon peer $stream #canon) (canon peer %map #%canon)
//	(fail code "message") (fail scalar) (fail %last_error%) (fail :error:)
//	(never) (null)
//
// Variables carry their kind in a sigil: x scalar, $s stream, %m stream map,
// #c canon stream, #%c canon map. Scalars and canons accept a lambda such as
// x.$.field.[0] or #c.length.
//
// Parse also runs the static checks the interpreter relies on, so a tree it
// returns never reads an undefined variable or calls next outside its fold.
package air
