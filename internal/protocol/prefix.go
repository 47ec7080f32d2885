// Package protocol implements the prefix protocol spoken with the peer:
// the vocabulary, reply sentinels, result taxonomy and the router that
// dispatches utterances to handlers.
package protocol

// Prefix vocabulary, in declaration order.
const (
	PrefixOperatorMessage  = "L:>P"
	PrefixReflection       = "L:>L"
	PrefixDiary            = "!PAMIETNIK!"
	PrefixImageDescription = "!OBRAZEK!"
	PrefixCommand          = "L:>CMD"
	PrefixLoad             = "%LOAD%"
	PrefixMessage          = "L:>WIA"
	PrefixActionLog        = "L:>AKC"
)

// Vocabulary lists the prefixes in the order they are matched.
var Vocabulary = []string{
	PrefixOperatorMessage,
	PrefixReflection,
	PrefixDiary,
	PrefixImageDescription,
	PrefixCommand,
	PrefixLoad,
	PrefixMessage,
	PrefixActionLog,
}
