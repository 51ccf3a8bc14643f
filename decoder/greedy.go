package decoder

// GreedyDecoder picks the best token at every step.
type GreedyDecoder struct{}

func (GreedyDecoder) Decode(data []float32, steps, tokens int, blank int32) ([]Output, error) {
	if err := checkShape(data, steps, tokens, blank); err != nil {
		return nil, err
	}

	var out Output
	last := blank
	for step := range steps {
		score, token := argmax(data[step*tokens : (step+1)*tokens])
		if token != last && token != blank {
			out.Tokens = append(out.Tokens, token)
			out.Timesteps = append(out.Timesteps, step)
			out.AMScores = append(out.AMScores, score)
			out.Score += score
		}
		last = token
	}

	return []Output{out}, nil
}

func argmax(vs []float32) (float32, int32) {
	var best int
	for i, v := range vs {
		if v > vs[best] {
			best = i
		}
	}
	return vs[best], int32(best)
}
