package game

// PlayCardData carries the card-specific parameters of a play_card event.
// Pointer fields distinguish a missing parameter from a zero value.
type PlayCardData struct {
	Slot       *int    `json:"slot"`
	Target     *string `json:"target"`
	OrganPile  *int    `json:"organ_pile"`
	Target1    *string `json:"target1"`
	OrganPile1 *int    `json:"organ_pile1"`
	Target2    *string `json:"target2"`
	OrganPile2 *int    `json:"organ_pile2"`
}

// applyCard runs a card's effect over the game, dispatching on the variant.
// On success the returned update holds the minimal changed substructure plus
// a human message for the chat; on a rule violation the game is unchanged and
// a LogicError is returned. Callers hold the turn lock.
func applyCard(card Card, caller *Player, g *Game, data PlayCardData) (*GameUpdate, error) {
	switch c := card.(type) {
	case Organ:
		return applyOrgan(c, caller, g, data)
	case Virus:
		return applyVirus(c, caller, g, data)
	case Medicine:
		return applyMedicine(c, caller, g, data)
	case Treatment:
		switch c.Kind {
		case Transplant:
			return applyTransplant(caller, g, data)
		case OrganThief:
			return applyOrganThief(caller, g, data)
		case Infection:
			return applyInfection(caller, g)
		case LatexGlove:
			return applyLatexGlove(caller, g)
		case MedicalError:
			return applyMedicalError(caller, g, data)
		}
	}
	return nil, Logicf("La carta no se puede jugar")
}

// simpleTarget resolves the target pile shared by organ, virus and medicine
// plays and validates the placement against it.
func simpleTarget(card Card, g *Game, data PlayCardData) (*Player, *OrganPile, error) {
	if data.Target == nil || data.OrganPile == nil {
		return nil, nil, Logicf("Parámetro vacío")
	}
	target, err := g.unfinishedPlayer(*data.Target)
	if err != nil {
		return nil, nil, err
	}
	pile, err := target.Body.Pile(*data.OrganPile)
	if err != nil {
		return nil, nil, err
	}
	if !pile.CanPlace(card) {
		return nil, nil, Logicf("No se puede colocar la carta ahí")
	}
	return target, pile, nil
}

// pilesUpdate builds a broadcastable update with the bodies of the given
// players.
func pilesUpdate(g *Game, players ...*Player) *GameUpdate {
	update := NewUpdate(g)
	bodies := map[string]any{}
	for _, p := range players {
		bodies[p.Name] = p.Body.Piles()
	}
	update.Repeat(map[string]any{"bodies": bodies})
	return update
}

func applyOrgan(card Organ, caller *Player, g *Game, data PlayCardData) (*GameUpdate, error) {
	target, pile, err := simpleTarget(card, g, data)
	if err != nil {
		return nil, err
	}

	if target.Name != caller.Name {
		return nil, Logicf("No puedes colocar un órgano en otro cuerpo")
	}
	if !target.Body.OrganUnique(card) {
		return nil, Logicf("No puedes colocar un órgano repetido")
	}

	g.log.Infof("%s-colored organ played over %s", card.Color, target.Name)
	pile.SetOrgan(card)

	update := pilesUpdate(g, target)
	update.SetMsg("un órgano %s", card.Color.spanish(false))
	return update, nil
}

func applyVirus(card Virus, caller *Player, g *Game, data PlayCardData) (*GameUpdate, error) {
	target, pile, err := simpleTarget(card, g, data)
	if err != nil {
		return nil, err
	}

	if target.Name == caller.Name {
		return nil, Logicf("No puedes colocar un virus en tu cuerpo")
	}
	if pile.IsImmune() {
		return nil, Logicf("El órgano es inmune")
	}

	g.log.Infof("%s-colored virus played over %s", card.Color, target.Name)

	switch {
	case pile.IsInfected():
		// A second virus extirpates the organ: everything goes back to
		// the bottom of the deck and the pile is left empty.
		pile.AddModifier(card)
		pile.RemoveOrgan(g.deck)
	case pile.IsProtected():
		// The virus destroys the medicine, both leave play.
		pile.AddModifier(card)
		pile.PopModifiers(g.deck)
	default:
		pile.AddModifier(card)
	}

	update := pilesUpdate(g, target)
	update.SetMsg("un virus %s sobre %s", card.Color.spanish(false), target.Name)
	return update, nil
}

func applyMedicine(card Medicine, caller *Player, g *Game, data PlayCardData) (*GameUpdate, error) {
	target, pile, err := simpleTarget(card, g, data)
	if err != nil {
		return nil, err
	}

	if target.Name != caller.Name {
		return nil, Logicf("No puedes colocar una medicina en otro cuerpo")
	}
	if pile.IsImmune() {
		return nil, Logicf("El órgano ya es inmune")
	}

	g.log.Infof("%s-colored medicine played over %s", card.Color, target.Name)

	if pile.IsInfected() {
		// The medicine destroys the virus, both leave play.
		pile.AddModifier(card)
		pile.PopModifiers(g.deck)
	} else {
		pile.AddModifier(card)
	}

	update := pilesUpdate(g, target)
	update.SetMsg("una medicina %s", card.Color.spanish(true))
	return update, nil
}

func applyTransplant(caller *Player, g *Game, data PlayCardData) (*GameUpdate, error) {
	if data.Target1 == nil || data.Target2 == nil || data.OrganPile1 == nil || data.OrganPile2 == nil {
		return nil, Logicf("Parámetro vacío")
	}

	player1, err := g.unfinishedPlayer(*data.Target1)
	if err != nil {
		return nil, err
	}
	player2, err := g.unfinishedPlayer(*data.Target2)
	if err != nil {
		return nil, err
	}
	pile1, err := player1.Body.Pile(*data.OrganPile1)
	if err != nil {
		return nil, err
	}
	pile2, err := player2.Body.Pile(*data.OrganPile2)
	if err != nil {
		return nil, err
	}

	if pile1.IsEmpty() || pile2.IsEmpty() {
		return nil, Logicf("No puedes intercambiar órganos inexistentes")
	}
	if pile1.IsImmune() || pile2.IsImmune() {
		return nil, Logicf("No puedes intercambiar órganos inmunes")
	}
	if player1.Name == player2.Name {
		return nil, Logicf("No puedes intercambiar órganos entre el mismo jugador")
	}

	// The swap slots themselves can't conflict, so they are ignored when
	// checking for duplicated colors.
	if !player1.Body.OrganUnique(*pile2.Organ(), *data.OrganPile1) ||
		!player2.Body.OrganUnique(*pile1.Organ(), *data.OrganPile2) {
		return nil, Logicf("Ya tiene un órgano de ese color")
	}

	g.log.Infof("transplant played between %s and %s", player1.Name, player2.Name)

	player1.Body.piles[*data.OrganPile1], player2.Body.piles[*data.OrganPile2] =
		player2.Body.piles[*data.OrganPile2], player1.Body.piles[*data.OrganPile1]

	update := pilesUpdate(g, player1, player2)
	update.SetMsg("un Transplante entre %s y %s", player1.Name, player2.Name)
	return update, nil
}

func applyOrganThief(caller *Player, g *Game, data PlayCardData) (*GameUpdate, error) {
	if data.Target == nil || data.OrganPile == nil {
		return nil, Logicf("Parámetro vacío")
	}

	target, err := g.unfinishedPlayer(*data.Target)
	if err != nil {
		return nil, err
	}
	pile, err := target.Body.Pile(*data.OrganPile)
	if err != nil {
		return nil, err
	}

	if pile.IsEmpty() {
		return nil, Logicf("No puedes robar órganos inexistentes")
	}
	if pile.IsImmune() {
		return nil, Logicf("No puedes robar órganos inmunes")
	}
	if target.Name == caller.Name {
		return nil, Logicf("No puedes robarte un órgano a ti mismo")
	}
	if !caller.Body.OrganUnique(*pile.Organ()) {
		return nil, Logicf("Ya tienes un órgano de ese color")
	}

	emptySlot := -1
	for slot, p := range caller.Body.Piles() {
		if p.IsEmpty() {
			emptySlot = slot
			break
		}
	}
	if emptySlot == -1 {
		return nil, Logicf("No tienes espacio libre")
	}

	g.log.Infof("organ-thief played over %s", target.Name)

	// The stolen pile moves whole; the target keeps an empty slot behind.
	caller.Body.piles[emptySlot], target.Body.piles[*data.OrganPile] =
		pile, caller.Body.piles[emptySlot]

	update := pilesUpdate(g, target, caller)
	update.SetMsg("un Ladrón de Órganos sobre %s", target.Name)
	return update, nil
}

func applyInfection(caller *Player, g *Game) (*GameUpdate, error) {
	// Caller piles carrying a virus on top, grouped by virus color and
	// visited in random order.
	virus := map[Color][]*OrganPile{}
	total := 0
	for _, slot := range g.rng.Perm(len(caller.Body.Piles())) {
		pile := caller.Body.Piles()[slot]
		if pile.IsInfected() {
			virus[pile.TopColor()] = append(virus[pile.TopColor()], pile)
			total++
		}
	}
	if total == 0 {
		return nil, Logicf("No tienes virus disponibles")
	}

	// Free piles of every other unfinished player, also in random order.
	var candidates []*OrganPile
	unfinished := g.unfinishedPlayers()
	g.rng.Shuffle(len(unfinished), func(i, j int) {
		unfinished[i], unfinished[j] = unfinished[j], unfinished[i]
	})
	for _, player := range unfinished {
		if player.Name == caller.Name {
			continue
		}
		for _, pile := range player.Body.Piles() {
			if pile.IsFree() {
				candidates = append(candidates, pile)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, Logicf("No hay nadie que pueda recibir tus virus")
	}

	g.log.Infof("infection played by %s", caller.Name)

	g.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	for _, candidate := range candidates {
		color := candidate.TopColor()
		if len(virus[color]) == 0 {
			// Fall back to a multicolor virus if one is available.
			if len(virus[Multi]) == 0 {
				continue
			}
			color = Multi
		}

		source := virus[color][len(virus[color])-1]
		virus[color] = virus[color][:len(virus[color])-1]
		candidate.AddModifier(source.popTopModifier())
	}

	// Every body may have changed, return them all.
	update := pilesUpdate(g, g.players...)
	update.SetMsg("un Contagio")
	return update, nil
}

func applyLatexGlove(caller *Player, g *Game) (*GameUpdate, error) {
	g.log.Infof("latex-glove played by %s", caller.Name)

	update := NewUpdate(g)
	for _, player := range g.unfinishedPlayers() {
		if player.Name == caller.Name {
			continue
		}
		player.emptyHand(g.deck)
		update.Add(player.Name, map[string]any{"hand": []Card{}})
	}

	update.SetMsg("un Guante de Látex")
	return update, nil
}

func applyMedicalError(caller *Player, g *Game, data PlayCardData) (*GameUpdate, error) {
	if data.Target == nil || *data.Target == "" {
		return nil, Logicf("Parámetro target vacío")
	}

	target, err := g.unfinishedPlayer(*data.Target)
	if err != nil {
		return nil, err
	}
	if target.Name == caller.Name {
		return nil, Logicf("No puedes intercambiar tu cuerpo contigo mismo")
	}

	g.log.Infof("medical-error played over %s", target.Name)

	// Whole bodies swap, immunized organs included.
	caller.Body, target.Body = target.Body, caller.Body

	update := pilesUpdate(g, target, caller)
	update.SetMsg("un Error Médico sobre %s", target.Name)
	return update, nil
}
