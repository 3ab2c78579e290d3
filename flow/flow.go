package flow

import (
	"go-kyc-intake/models"
	"go-kyc-intake/validation"
)

// Variant is the scoring configuration of one flow. The consumer and
// merchant flows count completion differently on purpose: consumer
// documents score one unit each, merchant documents gate a single combined
// unit. The asymmetry is observable user-facing behavior and is kept as
// configuration rather than unified.
type Variant struct {
	Kind                  models.FlowKind
	Fields                []validation.Field
	RequireProfilePicture bool
	Documents             []models.DocumentType
	CombinedDocuments     bool
	RequireFace           bool
}

// ConsumerVariant scores 10 units: six validated fields, the profile
// picture, two documents and the face capture.
func ConsumerVariant() Variant {
	return Variant{
		Kind: models.FlowConsumer,
		Fields: []validation.Field{
			validation.FieldFullName,
			validation.FieldEmail,
			validation.FieldPhone,
			validation.FieldAddress,
			validation.FieldProfession,
			validation.FieldFatherName,
		},
		RequireProfilePicture: true,
		Documents: []models.DocumentType{
			models.DocumentPrimaryID,
			models.DocumentSecondaryID,
		},
		RequireFace: true,
	}
}

// MerchantVariant scores 5 units: four validated fields plus one unit that
// requires both business certificates.
func MerchantVariant() Variant {
	return Variant{
		Kind: models.FlowMerchant,
		Fields: []validation.Field{
			validation.FieldFullName,
			validation.FieldEmail,
			validation.FieldPhone,
			validation.FieldCompanyName,
		},
		Documents: []models.DocumentType{
			models.DocumentBusinessCertA,
			models.DocumentBusinessCertB,
		},
		CombinedDocuments: true,
	}
}

// VariantFor returns the variant for a flow kind.
func VariantFor(kind models.FlowKind) (Variant, bool) {
	switch kind {
	case models.FlowConsumer:
		return ConsumerVariant(), true
	case models.FlowMerchant:
		return MerchantVariant(), true
	}
	return Variant{}, false
}

// Total is the flow-specific maximum score N.
func (v Variant) Total() int {
	total := len(v.Fields)
	if v.RequireProfilePicture {
		total++
	}
	if v.CombinedDocuments {
		total++
	} else {
		total += len(v.Documents)
	}
	if v.RequireFace {
		total++
	}
	return total
}
