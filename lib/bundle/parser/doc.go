// Package parser defines the contract between the bundle reader and a bundle
// parser, and provides the default CBOR implementation of that contract.
//
// # Contract
//
// A Factory opens a parser session (Parser) over a file handle. The session
// answers three requests, one at a time:
//
//   - ParseIntegrityBlock: the signed header at offset 0.
//   - ParseMetadata(offset): primary URL and the URL -> ResponseLocation index
//     of the web bundle that starts at offset.
//   - ParseResponse(location): the response head (status, headers) and the
//     position of the payload inside the file.
//
// Done is closed when the session is gone ("disconnected"); calls made after
// that fail with a ParseErrorInternal error wrapping ErrDisconnected.
//
// All failures are *ParseError values. Untrusted bundle bytes can only ever
// produce a ParseError, never a panic escaping the parser.
//
// # Wire format
//
// Integrity block (first CBOR item of the file):
//
//	v2: [magic h'F09F968BF09F93A6', "2b\0\0", {"webBundleId": tstr}, signature-stack]
//	v1: [magic h'F09F968BF09F93A6', "1b\0\0", signature-stack]
//	signature-stack = [* [{"ed25519PublicKey": bstr .size 32}, signature: bstr]]
//
// Web bundle (starts right after the integrity block):
//
//	metadata = [magic h'F09F8C90F09F93A6', "b2\0\0", primary-url: tstr / null,
//	            {* url: tstr => [offset: uint, length: uint]}]
//	response = [status: uint, {* tstr => tstr}, payload: bstr]
//
// Response offsets in the index are relative to the end of the metadata item.
// Metadata.Requests carries absolute file offsets.
package parser
