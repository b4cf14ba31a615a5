/*
Package value implements the typed-value layer described in.

A types.Value is a concrete runtime value tagged with its types.ValueType.
This package provides the total operations over that tagged union:

 - Convert: always succeeds. NaN/MIN propagates to the destination's
 missing sentinel; narrowing saturates at the destination's bounds;
 strings parse with the destination type's recognized grammar.
 - Equal: bit-exact for ints, IEEE-equal for floats (two NaNs count as
 equal missings — the one asymmetry from IEEE), byte-equal for strings.
 - SprintfValue / SscanfValue: round-trip a value through a format string
 that has passed CheckFormat.
 - CheckFormat: validates a keyword's declared format string against its
 type, per the printf-subset grammar in.

Missing values are type-specific sentinels (integer MIN, float NaN, empty
string, MissingTime for time) rather than a separate null flag, so generic
code can treat "missing" as just another representable value of each type.
*/
package value
