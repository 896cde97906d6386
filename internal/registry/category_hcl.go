package registry

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// categoryFile is the HCL shape of a category-table override file:
//
//	category "Behaviors" {
//	  classes = ["AIBehaviorProviderDefinition", "BehaviorProviderDefinition"]
//	}
type categoryFile struct {
	Categories []categoryBlock `hcl:"category,block"`
}

type categoryBlock struct {
	Name    string   `hcl:"name,label"`
	Classes []string `hcl:"classes"`
}

// LoadCategoryFile builds a CategoryIndex from an HCL category table.
func LoadCategoryFile(path string) (*CategoryIndex, error) {
	var file categoryFile
	if err := hclsimple.DecodeFile(path, nil, &file); err != nil {
		return nil, fmt.Errorf("decode category table %s: %w", path, err)
	}
	idx := NewCategoryIndex()
	for _, block := range file.Categories {
		if err := idx.Add(block.Name, block.Classes); err != nil {
			return nil, fmt.Errorf("category table %s: %w", path, err)
		}
	}
	return idx, nil
}

// DefaultCategories returns the built-in category table used when no
// override file is supplied. It covers the engine classes we see most;
// everything else lands in Others.
func DefaultCategories() *CategoryIndex {
	idx := NewCategoryIndex()
	for _, c := range defaultCategoryTable {
		// The built-in table is curated, so a conflict here is a
		// programming error rather than bad user input.
		if err := idx.Add(c.name, c.classes); err != nil {
			panic(err)
		}
	}
	return idx
}

var defaultCategoryTable = []struct {
	name    string
	classes []string
}{
	{"Core", []string{
		"Object", "Field", "Struct", "ScriptStruct", "State", "Function",
		"Enum", "Const", "Class", "Property", "Package",
	}},
	{"Behaviors", []string{
		"AIBehaviorProviderDefinition", "BehaviorProviderDefinition",
		"BehaviorKernel", "BehaviorSequenceEnableByMission",
		"BehaviorVolumeDefinition",
	}},
	{"Definitions", []string{
		"GBXDefinition", "ItemPoolDefinition", "KeyedItemPoolDefinition",
		"CrossDLCItemPoolDefinition", "ItemPoolListDefinition",
		"WeaponTypeDefinition", "WeaponPartDefinition",
		"ItemDefinition", "ItemPartDefinition", "UsableItemDefinition",
		"ShieldDefinition", "GrenadeModDefinition",
		"ClassModDefinition", "MissionDefinition",
		"AttributeDefinition", "AttributeInitializationDefinition",
		"InteractiveObjectDefinition", "VehicleDefinition",
	}},
	{"Balance", []string{
		"InventoryBalanceDefinition", "ItemBalanceDefinition",
		"WeaponBalanceDefinition", "MissionWeaponBalanceDefinition",
		"ClassModBalanceDefinition",
	}},
	{"Populations", []string{
		"PopulationDefinition", "PopulationFactoryBalancedAIPawn",
		"PopulationOpportunityDen", "PopulationOpportunityPoint",
		"WillowPopulationDefinition",
	}},
	{"Pawns and AI", []string{
		"AIPawnBalanceDefinition", "AIClassDefinition", "AIDefinition",
		"WillowAIPawn", "WillowPlayerPawn", "WillowVehicle",
	}},
	{"Meshes", []string{
		"StaticMesh", "SkeletalMesh", "StaticMeshComponent",
		"SkeletalMeshComponent", "FracturedStaticMesh",
	}},
	{"Materials and Textures", []string{
		"Material", "MaterialInstanceConstant", "MaterialInstanceTimeVarying",
		"Texture2D", "TextureCube", "LightMapTexture2D",
	}},
	{"Particles", []string{
		"ParticleSystem", "ParticleSystemComponent", "ParticleModuleRequired",
		"Emitter",
	}},
	{"Sounds", []string{
		"SoundCue", "SoundNodeWave", "AkEvent", "AkBank", "WwiseSoundGroup",
	}},
	{"Animations", []string{
		"AnimSequence", "AnimSet", "AnimTree", "AnimNodeSequence",
	}},
	{"Levels and Lighting", []string{
		"Level", "LevelStreaming", "PointLight", "SpotLight",
		"DirectionalLight", "LightComponent", "Brush", "Volume",
	}},
	{"Kismet", []string{
		"Sequence", "SeqAct_Interp", "SeqEvent_Touch", "SeqVar_Object",
		"InterpData", "InterpGroup",
	}},
	{"UI", []string{
		"GFxMovieDefinition", "WillowGFxMovie", "Font", "MultiFont",
	}},
}
