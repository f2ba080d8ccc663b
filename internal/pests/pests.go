// Package pests is a small built-in knowledge base used to enrich answers
// for known pest labels. It supplies prompt context only; the language of
// the final answer is the answer generator's concern.
package pests

import "strings"

type Info struct {
	Name           string
	ScientificName string
	Harmful        bool
	Severity       string // high|medium|low|beneficial|unknown
	Description    string
	Precautions    []string
	AffectedCrops  []string
}

var database = []Info{
	{
		Name:           "Fall Armyworm",
		ScientificName: "Spodoptera frugiperda",
		Harmful:        true,
		Severity:       "high",
		Description:    "Highly destructive pest of maize, rice, sorghum, and vegetables. Larvae feed on leaves, creating window-pane damage patterns.",
		Precautions: []string{
			"Apply neem-based pesticides (1500 ppm) early morning or evening at 2-3 ml per liter of water",
			"Introduce natural predators like Trichogramma wasps, ladybugs, and lacewings",
			"Use pheromone traps to monitor adult moth populations",
			"Remove and destroy egg masses and heavily infested plants",
		},
		AffectedCrops: []string{"Maize", "Rice", "Sorghum", "Cotton", "Vegetables"},
	},
	{
		Name:           "Aphid",
		ScientificName: "Aphidoidea",
		Harmful:        true,
		Severity:       "medium",
		Description:    "Small sap-sucking insects that weaken plants by extracting nutrients and can transmit viral diseases.",
		Precautions: []string{
			"Spray neem oil solution (3-5 ml per liter) on affected plants",
			"Introduce ladybugs and lacewings as biological control",
			"Use yellow sticky traps to monitor populations",
			"Avoid excessive nitrogen fertilization",
		},
		AffectedCrops: []string{"Most crops", "Vegetables", "Fruits", "Ornamentals"},
	},
	{
		Name:           "Whitefly",
		ScientificName: "Aleyrodidae",
		Harmful:        true,
		Severity:       "medium",
		Description:    "Tiny white insects that suck plant sap and excrete honeydew, leading to sooty mold. Major vectors of plant viruses.",
		Precautions: []string{
			"Use yellow sticky traps for monitoring and control",
			"Apply neem oil or insecticidal soap spray",
			"Use reflective mulches to repel whiteflies",
			"Introduce parasitic wasps (Encarsia formosa)",
		},
		AffectedCrops: []string{"Tomatoes", "Cotton", "Vegetables", "Ornamentals"},
	},
	{
		Name:           "Ladybug",
		ScientificName: "Coccinellidae",
		Harmful:        false,
		Severity:       "beneficial",
		Description:    "Beneficial predator of aphids, mites, and other soft-bodied pests. Both adults and larvae help control infestations.",
		Precautions: []string{
			"Protect and encourage ladybugs in the field",
			"Avoid broad-spectrum pesticides that harm beneficial insects",
			"Plant flowering plants to provide nectar for adults",
		},
	},
	{
		Name:           "Grasshopper",
		ScientificName: "Caelifera",
		Harmful:        true,
		Severity:       "high",
		Description:    "Chewing pest that defoliates grains, vegetables, and legumes, especially in dry seasons.",
		Precautions: []string{
			"Till fields after harvest to expose egg pods",
			"Apply neem-based sprays on field borders",
			"Encourage natural predators such as birds",
		},
		AffectedCrops: []string{"Grains", "Vegetables", "Legumes"},
	},
	{
		Name:           "Rice Leaf Roller",
		ScientificName: "Cnaphalocrocis medinalis",
		Harmful:        true,
		Severity:       "high",
		Description:    "Larvae fold rice leaves and scrape the green tissue, leaving white streaks and reducing photosynthesis.",
		Precautions: []string{
			"Avoid excessive nitrogen application",
			"Conserve spiders and parasitoid wasps in paddy fields",
			"Flood-irrigate to dislodge larvae where practical",
		},
		AffectedCrops: []string{"Rice", "Paddy"},
	},
	{
		Name:           "Brown Planthopper",
		ScientificName: "Nilaparvata lugens",
		Harmful:        true,
		Severity:       "high",
		Description:    "Sap-sucking rice pest causing hopperburn: circular patches of dried, dead plants.",
		Precautions: []string{
			"Use resistant rice varieties where available",
			"Drain fields periodically to disturb nymphs",
			"Avoid indiscriminate insecticide use that kills natural enemies",
		},
		AffectedCrops: []string{"Rice", "Paddy"},
	},
	{
		Name:           "Corn Borer",
		ScientificName: "Ostrinia nubilalis",
		Harmful:        true,
		Severity:       "high",
		Description:    "Larvae tunnel into stalks and ears of corn, weakening plants and inviting rot.",
		Precautions: []string{
			"Destroy crop residues after harvest to remove overwintering larvae",
			"Release Trichogramma egg parasitoids",
			"Plant early to escape peak moth flights",
		},
		AffectedCrops: []string{"Corn", "Maize", "Sorghum"},
	},
}

// Lookup finds pest info by label, exact match first then partial, and
// falls back to a cautious default for unknown labels (assume harmful).
func Lookup(label string) Info {
	needle := strings.ToLower(strings.TrimSpace(label))

	for _, p := range database {
		if strings.ToLower(p.Name) == needle {
			return p
		}
	}
	for _, p := range database {
		lower := strings.ToLower(p.Name)
		if strings.Contains(lower, needle) || strings.Contains(needle, lower) {
			return p
		}
	}

	return Info{
		Name:           label,
		ScientificName: "Unknown",
		Harmful:        true,
		Severity:       "unknown",
		Description:    "The pest '" + label + "' has been detected. Specific information is not available; consult local agricultural experts for detailed guidance.",
		Precautions: []string{
			"Monitor your crops regularly for any changes",
			"Consult with local agricultural extension services",
			"Maintain proper field hygiene",
		},
	}
}

// PromptContext renders the info as plain text for the answer prompt.
func (p Info) PromptContext() string {
	var b strings.Builder
	b.WriteString(p.Name)
	if p.ScientificName != "" && p.ScientificName != "Unknown" {
		b.WriteString(" (" + p.ScientificName + ")")
	}
	b.WriteString(": " + p.Description)
	if len(p.Precautions) > 0 {
		b.WriteString("\nRecommended actions:")
		for _, pr := range p.Precautions {
			b.WriteString("\n- " + pr)
		}
	}
	if len(p.AffectedCrops) > 0 {
		b.WriteString("\nCommonly affects: " + strings.Join(p.AffectedCrops, ", "))
	}
	return b.String()
}
