// Package message defines the rendered-newsletter data model shared by the
// template pipeline and the delivery providers.
package message

// InlineAsset is a decoded binary blob embedded in the newsletter body and
// referenced from the HTML by a cid: URL. Assets are built once per template
// load and never mutated afterwards.
type InlineAsset struct {
	Filename    string
	ContentType string
	Content     []byte
}

// AliasTable maps content-identifier aliases to inline assets. Several
// aliases may point at the same asset: mail clients disagree on whether a
// cid: reference uses the full Content-ID, its local part, or the
// angle-bracketed form, so the resolver registers every spelling. Keys are
// case-sensitive because they must match cid: references verbatim.
type AliasTable map[string]*InlineAsset

// Rendered is one recipient's fully personalized newsletter: placeholders
// substituted, inline images hardened, tracking pixel injected. The alias
// table is shared read-only with the template it was rendered from; the
// transport resolves cid: references against it at send time.
type Rendered struct {
	To      string
	Subject string
	HTML    string
	Assets  AliasTable
}
