package modelregistry

const (
	replicatePredictions = "https://api.replicate.com/v1/predictions"
	replicateModels      = "https://api.replicate.com/v1/models/"
)

func num(v float64) *float64 { return &v }

var customAspect = &VisibilityCondition{DependsOn: "aspect_ratio", Value: "custom"}

func promptParam(def, desc string) ParameterSpec {
	return ParameterSpec{ID: "prompt", DisplayName: "Prompt", Kind: KindText, Required: true, Description: desc, Default: def, Order: 0}
}

func seedParam(order int, desc string) ParameterSpec {
	return ParameterSpec{ID: "seed", DisplayName: "Seed", Kind: KindNumber, Description: desc, Order: order}
}

func outputFormatParam(order int, def string, options ...string) ParameterSpec {
	return ParameterSpec{
		ID: "output_format", DisplayName: "Output Format", Kind: KindSelect,
		Description: "Format of the output images.", Default: def,
		Constraints: Constraints{Options: options}, Order: order,
	}
}

func safetyParam(order int) ParameterSpec {
	return ParameterSpec{
		ID: "safety_tolerance", DisplayName: "Safety Tolerance", Kind: KindNumber,
		Description: "Safety tolerance, 1 is most strict and 6 is most permissive", Default: 2,
		Constraints: Constraints{Min: num(1), Max: num(6), Step: num(1)}, Order: order,
	}
}

func customDimension(id, name string, order int) ParameterSpec {
	return ParameterSpec{
		ID: id, DisplayName: name, Kind: KindNumber,
		Description: name + " of the generated image in text-to-image mode. Only used when aspect_ratio=custom. Must be a multiple of 32.",
		Default:     1024,
		Constraints: Constraints{Min: num(256), Max: num(1440), Step: num(32)},
		Order:       order,
		VisibleWhen: customAspect,
	}
}

func aspectParam(order int, options ...string) ParameterSpec {
	return ParameterSpec{
		ID: "aspect_ratio", DisplayName: "Aspect Ratio", Kind: KindSelect,
		Description: "Aspect ratio for the generated image", Default: "1:1",
		Constraints: Constraints{Options: options}, Order: order,
	}
}

// BuiltinCatalog returns the models shipped with the application. The first entry is the default.
func BuiltinCatalog() []ModelDescriptor {
	return []ModelDescriptor{
		{
			ID:          "nvidia/sana",
			DisplayName: "NVIDIA Sana",
			Description: "High-quality text-to-image model from NVIDIA",
			EndpointURL: replicatePredictions,
			Version:     "c6b5d2b7459910fec94432e9e1203c3cdce92d6db20f714f1355747990b52fa6",
			Payload:     PayloadPolicy{Style: StyleVersioned},
			Parameters: []ParameterSpec{
				promptParam(`a cyberpunk cat with a neon sign that says "Sana"`, "Input prompt"),
				{ID: "negative_prompt", DisplayName: "Negative Prompt", Kind: KindText, Description: "Specify things to not see in the output", Order: 1},
				{
					ID: "model_variant", DisplayName: "Model Variant", Kind: KindSelect,
					Description: "Model variant. 1600M variants are slower but produce higher quality than 600M.",
					Default:     "1600M-1024px",
					Constraints: Constraints{Options: []string{"1600M-1024px", "1600M-1024px-multilang", "1600M-512px", "600M-1024px-multilang", "600M-512px-multilang"}},
					Order:       2,
				},
				{ID: "width", DisplayName: "Width", Kind: KindNumber, Description: "Width of output image", Default: 1024, Constraints: Constraints{Min: num(512), Max: num(2048), Step: num(8)}, Order: 3},
				{ID: "height", DisplayName: "Height", Kind: KindNumber, Description: "Height of output image", Default: 1024, Constraints: Constraints{Min: num(512), Max: num(2048), Step: num(8)}, Order: 4},
				{ID: "num_inference_steps", DisplayName: "Num Inference Steps", Kind: KindNumber, Description: "Number of denoising steps", Default: 18, Constraints: Constraints{Min: num(1), Max: num(50)}, Order: 5},
				{ID: "guidance_scale", DisplayName: "Guidance Scale", Kind: KindRange, Description: "Classifier-free guidance scale", Default: 5, Constraints: Constraints{Min: num(1), Max: num(20), Step: num(0.1)}, Order: 6},
				{ID: "pag_guidance_scale", DisplayName: "PAG Guidance Scale", Kind: KindRange, Description: "PAG Guidance scale", Default: 2, Constraints: Constraints{Min: num(1), Max: num(20), Step: num(0.1)}, Order: 7},
				seedParam(8, "Random seed. Leave blank to randomize the seed"),
			},
		},
		{
			ID:          "black-forest-labs/flux-1.1-pro-ultra",
			DisplayName: "Flux 1.1 Pro Ultra",
			Description: "High-quality professional image generation model",
			EndpointURL: replicateModels + "black-forest-labs/flux-1.1-pro-ultra/predictions",
			Payload: PayloadPolicy{
				Style:         StyleModel,
				AllowedFields: []string{"prompt", "aspect_ratio", "image_prompt", "image_prompt_strength", "safety_tolerance", "seed", "raw", "output_format"},
			},
			Parameters: []ParameterSpec{
				promptParam("a majestic snow-capped mountain peak bathed in a warm glow of the setting sun", "Text prompt for image generation"),
				aspectParam(1, "21:9", "16:9", "3:2", "4:3", "5:4", "1:1", "4:5", "3:4", "2:3", "9:16", "9:21"),
				safetyParam(2),
				seedParam(3, "Random seed. Set for reproducible generation"),
				{ID: "raw", DisplayName: "Raw", Kind: KindCheckbox, Description: "Generate less processed, more natural-looking images", Default: false, Order: 4},
				outputFormatParam(5, "jpg", "jpg", "png"),
				{ID: "image_prompt", DisplayName: "Image Prompt", Kind: KindImage, Description: "Image to use with Flux Redux for image-guided generation", Order: 6},
				{
					ID: "image_prompt_strength", DisplayName: "Image Prompt Strength", Kind: KindRange,
					Description: "Blend between the prompt and the image prompt", Default: 0.1,
					Constraints: Constraints{Min: num(0), Max: num(1), Step: num(0.01)}, Order: 7,
				},
			},
		},
		{
			ID:          "black-forest-labs/flux-dev",
			DisplayName: "Flux Dev",
			Description: "Experimental version of Flux with additional features",
			EndpointURL: replicateModels + "black-forest-labs/flux-dev/predictions",
			Payload:     PayloadPolicy{Style: StyleModel},
			Parameters: []ParameterSpec{
				promptParam(`black forest gateau cake spelling out the words "FLUX DEV", tasty, food photography, dynamic shot`, "Prompt for generated image"),
				aspectParam(1, "1:1", "16:9", "21:9", "3:2", "2:3", "4:5", "5:4", "3:4", "4:3", "9:16", "9:21"),
				{ID: "guidance", DisplayName: "Guidance", Kind: KindRange, Description: "Guidance for generated image", Default: 3, Constraints: Constraints{Min: num(0), Max: num(10), Step: num(0.1)}, Order: 2},
				{ID: "num_inference_steps", DisplayName: "Inference Steps", Kind: KindNumber, Description: "Number of denoising steps. Recommended range is 28-50.", Default: 28, Constraints: Constraints{Min: num(1), Max: num(50), Step: num(1)}, Order: 3},
				seedParam(4, "Random seed. Set for reproducible generation"),
				outputFormatParam(5, "webp", "webp", "jpg", "png"),
			},
		},
		{
			ID:          "black-forest-labs/flux-1.1-pro",
			DisplayName: "Flux 1.1 Pro",
			Description: "Professional version of Flux for high-quality image generation",
			EndpointURL: replicateModels + "black-forest-labs/flux-1.1-pro/predictions",
			Payload:     PayloadPolicy{Style: StyleModel},
			Parameters: []ParameterSpec{
				promptParam(`black forest gateau cake spelling out the words "FLUX 1 . 1 Pro", tasty, food photography`, "Text prompt for image generation"),
				aspectParam(1, "custom", "1:1", "16:9", "3:2", "2:3", "4:5", "5:4", "9:16", "3:4", "4:3"),
				customDimension("width", "Width", 2),
				customDimension("height", "Height", 3),
				safetyParam(4),
				seedParam(5, "Random seed. Set for reproducible generation"),
				{ID: "prompt_upsampling", DisplayName: "Prompt Upsampling", Kind: KindCheckbox, Description: "Automatically modify the prompt for more creative generation", Default: false, Order: 6},
				outputFormatParam(7, "webp", "webp", "jpg", "png"),
			},
		},
		{
			ID:          "black-forest-labs/flux-pro",
			DisplayName: "Flux Pro",
			Description: "Professional version of Flux for high-quality image generation",
			EndpointURL: replicateModels + "black-forest-labs/flux-pro/predictions",
			Payload:     PayloadPolicy{Style: StyleModel},
			Parameters: []ParameterSpec{
				promptParam("The world's largest black forest cake, the size of a building, surrounded by trees of the black forest", "Text prompt for image generation"),
				aspectParam(1, "custom", "1:1", "16:9", "3:2", "2:3", "4:5", "5:4", "9:16", "3:4", "4:3"),
				customDimension("width", "Width", 2),
				customDimension("height", "Height", 3),
				{ID: "steps", DisplayName: "Steps", Kind: KindNumber, Description: "Number of diffusion steps", Default: 25, Constraints: Constraints{Min: num(1), Max: num(50), Step: num(1)}, Order: 4},
				{ID: "guidance", DisplayName: "Guidance", Kind: KindRange, Description: "Controls the balance between adherence to the text prompt and image quality/diversity.", Default: 3, Constraints: Constraints{Min: num(2), Max: num(5), Step: num(0.1)}, Order: 5},
				{ID: "interval", DisplayName: "Interval", Kind: KindRange, Description: "Increases the variance in possible outputs letting the model be more dynamic.", Default: 2, Constraints: Constraints{Min: num(1), Max: num(4), Step: num(0.1)}, Order: 6},
				safetyParam(7),
				seedParam(8, "Random seed. Set for reproducible generation"),
				outputFormatParam(9, "webp", "webp", "jpg", "png"),
			},
		},
	}
}
